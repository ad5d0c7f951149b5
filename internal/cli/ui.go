package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Color definitions
var (
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Green  = color.New(color.FgGreen)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// InitColors disables colored output when noColor is set. Color is already
// off when stdout is not a terminal or NO_COLOR is present.
func InitColors(noColor bool) {
	if noColor {
		color.NoColor = true
	}
}

// Success prints a success message with a green checkmark.
func Success(w io.Writer, msg string) {
	Green.Fprint(w, "✓ ")
	fmt.Fprintln(w, msg)
}

// Successf prints a formatted success message.
func Successf(w io.Writer, format string, args ...any) {
	Success(w, fmt.Sprintf(format, args...))
}

// Warningf prints a formatted warning with a yellow marker.
func Warningf(w io.Writer, format string, args ...any) {
	Yellow.Fprint(w, "⚠ ")
	fmt.Fprintf(w, format+"\n", args...)
}

// Error prints an error message with a red cross.
func Error(w io.Writer, msg string) {
	Red.Fprint(w, "✗ ")
	fmt.Fprintln(w, msg)
}

// Infof prints a formatted informational line.
func Infof(w io.Writer, format string, args ...any) {
	Cyan.Fprint(w, "ℹ ")
	fmt.Fprintf(w, format+"\n", args...)
}

// Header prints a bold section title.
func Header(w io.Writer, title string) {
	Bold.Fprintln(w, title)
}

// Label prints a dimmed key followed by its value.
func Label(w io.Writer, key, value string) {
	Dim.Fprintf(w, "%-22s", key+":")
	fmt.Fprintln(w, value)
}
