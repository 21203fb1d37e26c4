// Package report renders a RunResult for people (text) and for CI (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"dev/bravebird/ipview-verify/pkg/models"
)

// Formats supported by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Write renders res in the given format.
func Write(w io.Writer, format string, res *models.RunResult) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, res)
	case FormatText, "":
		return WriteText(w, res)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// WriteJSON writes res as indented JSON.
func WriteJSON(w io.Writer, res *models.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// WriteText writes a human-readable summary of res.
func WriteText(w io.Writer, res *models.RunResult) error {
	verdict := "PASSED"
	if res.Status != models.StatusSuccess {
		verdict = "FAILED"
	}
	fmt.Fprintf(w, "Verification %s  run=%s  target=%s  driver=%s  (%dms)\n",
		verdict, res.ID, res.TargetURL, res.Driver, res.DurationMs)

	if res.Status != models.StatusSuccess {
		fmt.Fprintf(w, "  %s in %s: %s\n", res.Kind, res.Phase, res.Message)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nPHASE\tSTATUS\tDURATION\tARTIFACT\t")
	for _, p := range res.Phases {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", p.Phase, p.Status, duration(p), dash(p.Artifact))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if res.SettledText != "" {
		fmt.Fprintf(w, "\nSettled text: %q\n", res.SettledText)
	}
	if res.Baseline != nil {
		line := fmt.Sprintf("%s=%t", res.Baseline.Token, res.Baseline.HasToken)
		if res.Post != nil {
			line += fmt.Sprintf(" -> %s=%t", res.Post.Token, res.Post.HasToken)
		}
		fmt.Fprintf(w, "Toggle: %s (%s)\n", line, res.ToggleState)
	}
	if res.RoundTripState != "" {
		fmt.Fprintf(w, "Round trip: %s\n", res.RoundTripState)
	}

	if len(res.Artifacts) > 0 {
		fmt.Fprintln(w, "\nArtifacts:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, a := range res.Artifacts {
			loc := a.Path
			if a.URL != "" {
				loc += "  " + a.URL
			}
			fmt.Fprintf(tw, "  %s\t%s\n", a.Name, loc)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if errs := consoleErrors(res.Console); len(errs) > 0 {
		fmt.Fprintf(w, "\nConsole errors (%d of %d messages):\n", len(errs), len(res.Console))
		for _, m := range errs {
			fmt.Fprintf(w, "  %s\n", m.Text)
		}
	} else if len(res.Console) > 0 {
		fmt.Fprintf(w, "\nConsole: %d message(s), no errors\n", len(res.Console))
	}
	return nil
}

func duration(p models.PhaseResult) string {
	if p.Status == models.StatusSkipped {
		return "-"
	}
	return fmt.Sprintf("%dms", p.DurationMs)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func consoleErrors(msgs []models.ConsoleMessage) []models.ConsoleMessage {
	var out []models.ConsoleMessage
	for _, m := range msgs {
		if m.Level == "error" || strings.HasPrefix(m.Level, "assert") {
			out = append(out, m)
		}
	}
	return out
}
