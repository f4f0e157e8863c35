// Package output provides common output formatting utilities.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/sloppylopez/stablemock/pkg/detect"
)

// JSON writes indented JSON to w.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table creates an aligned table writer.
// Remember to call Flush() when done writing.
func Table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// Warn prints a warning message to w.
func Warn(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "Warning: "+format+"\n", args...)
}

var (
	tierHigh   = color.New(color.FgRed, color.Bold)
	tierMedium = color.New(color.FgYellow)
	tierLow    = color.New(color.FgCyan)
	muted      = color.New(color.FgHiBlack)
)

// DisableColor turns off colored output for the process.
func DisableColor() {
	color.NoColor = true
}

// Tier renders a confidence tier, colored when the terminal allows it.
func Tier(c detect.Confidence) string {
	switch c {
	case detect.ConfidenceHigh:
		return tierHigh.Sprint(c.String())
	case detect.ConfidenceMedium:
		return tierMedium.Sprint(c.String())
	default:
		return tierLow.Sprint(c.String())
	}
}

// Muted renders secondary text.
func Muted(s string) string {
	return muted.Sprint(s)
}

// Ago renders t relative to now, e.g. "3 minutes ago". The zero time is "-".
func Ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// Count renders n with a singular or plural noun, e.g. "1 sample", "1,204 samples".
func Count(n int, singular, plural string) string {
	noun := plural
	if n == 1 {
		noun = singular
	}
	return humanize.Comma(int64(n)) + " " + noun
}
