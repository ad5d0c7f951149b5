package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/JonMunkholm/vulnmaster/internal/core"
	"github.com/spf13/cobra"
)

func newIngestCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest one or more CSV exports, each as a new dataset",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var results []*core.IngestResult
			failed := 0

			for _, path := range args {
				res, err := s.service().Ingest(cmd.Context(), path)
				if err != nil {
					failed++
					Error(s.errOut, fmt.Sprintf("%s: %s", path, describe(err)))
					continue
				}
				results = append(results, res)

				if s.jsonOut {
					continue
				}
				Success(s.out, res.Summary())
				Infof(s.out, "dataset %s", res.DatasetID)
				if res.Skipped > 0 {
					Warningf(s.out, "%d malformed rows skipped", res.Skipped)
				}
				if res.Rejected > 0 {
					Warningf(s.out, "%d rows rejected (no CVE ID or product)", res.Rejected)
				}
			}

			if s.jsonOut {
				if results == nil {
					results = []*core.IngestResult{}
				}
				if err := s.printJSON(results); err != nil {
					return err
				}
			}
			if failed > 0 {
				return errReported
			}
			return nil
		},
	}
}

func newPreviewCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <file>",
		Short: "Show what ingesting a file would store, without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return err
			}

			resp, err := s.service().PreviewReader(cmd.Context(), filepath.Base(path), f, info.Size())
			if err != nil {
				return err
			}
			if s.jsonOut {
				return s.printJSON(resp)
			}

			Header(s.out, resp.FileName)
			Label(s.out, "rows", strconv.Itoa(resp.Summary.TotalRows))
			Label(s.out, "accepted", strconv.Itoa(resp.Summary.Accepted))
			Label(s.out, "skipped", strconv.Itoa(resp.Summary.Skipped))
			Label(s.out, "rejected", strconv.Itoa(resp.Summary.Rejected))
			for _, field := range resp.Unmapped {
				Warningf(s.out, "no column for %s", field)
			}
			for _, e := range resp.SkippedSamples {
				Warningf(s.out, "line %d: %s", e.LineNumber, e.Reason)
			}
			for _, e := range resp.RejectedSamples {
				Warningf(s.out, "line %d: %s", e.LineNumber, e.Reason)
			}
			return nil
		},
	}
}

func newDatasetsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List ingested datasets, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			datasets, err := s.service().ListDatasets(cmd.Context())
			if err != nil {
				return err
			}
			if s.jsonOut {
				if datasets == nil {
					datasets = []core.Dataset{}
				}
				return s.printJSON(datasets)
			}
			if len(datasets) == 0 {
				Infof(s.out, "no datasets")
				return nil
			}

			tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILE\tCREATED\tRECORDS")
			for _, d := range datasets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", d.ID, d.FileName, core.FormatTimestamp(d.CreatedAt), d.RecordCount)
			}
			return tw.Flush()
		},
	}
}

func newRecordsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "records <dataset-id>",
		Short: "List the records of a dataset in file order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := s.service().ListRecords(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if s.jsonOut {
				if records == nil {
					records = []core.VulnerabilityRecord{}
				}
				return s.printJSON(records)
			}
			if len(records) == 0 {
				Infof(s.out, "no records for dataset %s", args[0])
				return nil
			}

			tw := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ROW\tID\tCVE\tPRODUCT\tSEVERITY\tSCORE\tEXPERT")
			for _, r := range records {
				expert := "-"
				if r.Expert != nil {
					expert = r.Expert.Severity
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.RowNumber, r.ID, r.CVEID, r.Product, r.OriginalSeverity,
					strconv.FormatFloat(r.OriginalScore, 'f', -1, 64), expert)
			}
			return tw.Flush()
		},
	}
}

func newRecordCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "record <record-id>",
		Short: "Show one record with its original row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := s.service().GetRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			row, err := core.DecodeRawData(rec.RawData)
			if err != nil {
				return fmt.Errorf("decode raw data: %w", err)
			}

			if s.jsonOut {
				return s.printJSON(struct {
					*core.VulnerabilityRecord
					RawData core.Row `json:"rawData"`
				}{rec, row})
			}

			Header(s.out, rec.CVEID+" "+rec.Product)
			Label(s.out, "id", rec.ID)
			Label(s.out, "dataset", rec.DatasetID)
			Label(s.out, "row", strconv.Itoa(rec.RowNumber))
			Label(s.out, "component", rec.Component)
			Label(s.out, "severity", rec.OriginalSeverity)
			Label(s.out, "vector", rec.OriginalVector)
			Label(s.out, "score", strconv.FormatFloat(rec.OriginalScore, 'f', -1, 64))
			Label(s.out, "disposition", rec.DispositionSummary)
			Label(s.out, "rationale", rec.Rationale)

			if e := rec.Expert; e != nil {
				fmt.Fprintln(s.out)
				Header(s.out, "Expert assessment")
				Label(s.out, "severity", e.Severity)
				if e.Vector != nil {
					Label(s.out, "vector", *e.Vector)
				}
				if e.Score != nil {
					Label(s.out, "score", strconv.FormatFloat(*e.Score, 'f', -1, 64))
				}
				Label(s.out, "justification", e.Justification)
				Label(s.out, "updated", core.FormatTimestamp(e.UpdatedAt))
			}

			fmt.Fprintln(s.out)
			Header(s.out, "Original row")
			for i, col := range row.Columns() {
				Label(s.out, col, row.Values()[i])
			}
			return nil
		},
	}
}

func newAssessCmd(s *session) *cobra.Command {
	var (
		severity      string
		vector        string
		score         float64
		justification string
	)

	cmd := &cobra.Command{
		Use:   "assess <record-id>",
		Short: "Record an expert assessment for a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := core.ExpertUpdate{
				RecordID:      args[0],
				Severity:      severity,
				Justification: justification,
			}
			if cmd.Flags().Changed("vector") {
				u.Vector = &vector
			}
			if cmd.Flags().Changed("score") {
				u.Score = &score
			}

			msg, err := s.service().SubmitExpertAssessment(cmd.Context(), u)
			if err != nil {
				return err
			}

			if s.jsonOut {
				rec, err := s.service().GetRecord(cmd.Context(), u.RecordID)
				if err != nil {
					return err
				}
				return s.printJSON(map[string]any{"message": msg, "record": rec})
			}
			Success(s.out, msg)
			return nil
		},
	}

	cmd.Flags().StringVar(&severity, "severity", "", "expert severity rating")
	cmd.Flags().StringVar(&vector, "vector", "", "expert attack vector")
	cmd.Flags().Float64Var(&score, "score", 0, "expert score")
	cmd.Flags().StringVar(&justification, "justification", "", "reasoning for the assessment (at least 10 characters)")
	cmd.MarkFlagRequired("justification")
	return cmd
}
