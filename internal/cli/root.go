// Package cli implements vulnctl, the command line front end for ingesting
// assessment exports and reviewing the stored records.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/JonMunkholm/vulnmaster/internal/application"
	"github.com/JonMunkholm/vulnmaster/internal/config"
	"github.com/JonMunkholm/vulnmaster/internal/core"
	"github.com/JonMunkholm/vulnmaster/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// closeTimeout bounds the wait for the store to close on exit.
const closeTimeout = 10 * time.Second

// errReported marks a failure whose details were already printed.
var errReported = errors.New("command failed")

// session carries state shared by every subcommand of one invocation.
type session struct {
	out    io.Writer
	errOut io.Writer

	envFile string
	noColor bool
	jsonOut bool

	app *application.App
}

// NewRootCmd builds the vulnctl command tree writing to out and errOut.
func NewRootCmd(out, errOut io.Writer) (*cobra.Command, func(context.Context) error) {
	s := &session{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "vulnctl",
		Short:         "Ingest and review vulnerability assessment exports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			InitColors(s.noColor)
			return s.open(cmd.Context())
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&s.envFile, "env-file", "", "load environment from this file instead of ./.env")
	root.PersistentFlags().BoolVar(&s.noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().BoolVar(&s.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newIngestCmd(s),
		newPreviewCmd(s),
		newDatasetsCmd(s),
		newRecordsCmd(s),
		newRecordCmd(s),
		newAssessCmd(s),
	)
	return root, s.close
}

// Execute runs vulnctl with os.Args and returns the process exit code.
func Execute() int {
	return Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes one vulnctl invocation and returns its exit code.
func Run(ctx context.Context, args []string, out, errOut io.Writer) int {
	root, closeFn := NewRootCmd(out, errOut)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if cerr := closeFn(closeCtx); cerr != nil && err == nil {
		err = cerr
	}

	if err == nil {
		return 0
	}
	if !errors.Is(err, errReported) {
		Error(errOut, describe(err))
	}
	return 1
}

func (s *session) open(ctx context.Context) error {
	if s.envFile != "" {
		if err := godotenv.Load(s.envFile); err != nil {
			return fmt.Errorf("load %s: %w", s.envFile, err)
		}
	} else {
		// Optional; variables already in the environment take precedence.
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.SetupWriter(s.errOut, cfg.Logging.Level, cfg.Logging.Format)

	app, err := application.New(ctx, cfg)
	if err != nil {
		return err
	}
	s.app = app
	return nil
}

func (s *session) close(ctx context.Context) error {
	if s.app == nil {
		return nil
	}
	err := s.app.Close(ctx)
	s.app = nil
	return err
}

func (s *session) service() *core.Service {
	return s.app.Service
}

func (s *session) printJSON(v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describe renders err for a terminal user.
func describe(err error) string {
	msg := err.Error()
	if core.IsUserFacing(err) {
		msg = core.FormatUserError(err)
	}

	var ie *core.IngestError
	if errors.As(err, &ie) && ie.Line > 0 {
		msg = fmt.Sprintf("%s (line %d)", msg, ie.Line)
	}
	var ve core.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		msg = fmt.Sprintf("%s: %s", ve.Field, msg)
	}
	return msg
}
