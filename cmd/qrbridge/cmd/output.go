package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/qrbridge/internal/results"
)

const (
	outputFormatText = "text"
	outputFormatJSON = "json"
	outputFormatYAML = "yaml"
)

// fileReport is the per-input record written by the image and pixels commands.
type fileReport struct {
	Source         string `json:"source" yaml:"source"`
	results.Report `yaml:",inline"`
}

func newFileReport(source string, out results.Outcome) fileReport {
	return fileReport{Source: source, Report: out.Report()}
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case outputFormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case outputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// writeTextReports prints one line per decoded symbol, or a status line for
// inputs without symbols.
func writeTextReports(w io.Writer, reports []fileReport) error {
	for _, r := range reports {
		switch {
		case r.Code != 0:
			if _, err := fmt.Fprintf(w, "%s: error: %s\n", r.Source, r.Kind); err != nil {
				return err
			}
		case len(r.Symbols) == 0:
			if _, err := fmt.Fprintf(w, "%s: no QR code found\n", r.Source); err != nil {
				return err
			}
		default:
			for _, s := range r.Symbols {
				if _, err := fmt.Fprintf(w, "%s: %s\n", r.Source, s.Text); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// emitReports writes reports in the configured format.
func (a *app) emitReports(w io.Writer, reports []fileReport) error {
	format := a.cfg.Output.Format
	if format == "" || format == outputFormatText {
		return writeTextReports(w, reports)
	}
	return writeStructured(w, format, reports)
}

// failedReports counts reports whose detection did not succeed.
func failedReports(reports []fileReport) int {
	n := 0
	for _, r := range reports {
		if r.Code != 0 {
			n++
		}
	}
	return n
}
