package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/psychoinformatics-de/hirni/internal/config"
	"github.com/psychoinformatics-de/hirni/internal/dataset"
	"github.com/psychoinformatics-de/hirni/internal/spec"
	"github.com/psychoinformatics-de/hirni/internal/ui"
)

// fileReport is the validation outcome of one specification file.
type fileReport struct {
	Path     string          `json:"path"`
	Snippets int             `json:"snippets"`
	Problems []snippetReport `json:"problems,omitempty"`
	// Error is set when the file could not be read or parsed.
	Error string `json:"error,omitempty"`
}

type snippetReport struct {
	Snippet int `json:"snippet"`
	spec.Problem
}

func (r fileReport) failed() bool {
	if r.Error != "" {
		return true
	}
	for _, p := range r.Problems {
		if p.Severity == spec.SeverityError {
			return true
		}
	}
	return false
}

// validateFile checks every snippet of the specification file at path.
// Snippets are numbered from 1 in file order.
func validateFile(path, display string) fileReport {
	report := fileReport{Path: display}
	n := 0
	for snip, err := range spec.Stream(path) {
		if err != nil {
			report.Error = err.Error()
			break
		}
		n++
		for _, p := range spec.Validate(snip) {
			report.Problems = append(report.Problems, snippetReport{Snippet: n, Problem: p})
		}
	}
	report.Snippets = n
	return report
}

func printReport(w io.Writer, r fileReport) {
	switch {
	case r.Error != "":
		fmt.Fprintf(w, "%s %s: %s\n", ui.RenderFail(ui.IconFail), r.Path, r.Error)
	case r.failed():
		fmt.Fprintf(w, "%s %s\n", ui.RenderFail(ui.IconFail), r.Path)
	case len(r.Problems) > 0:
		fmt.Fprintf(w, "%s %s\n", ui.RenderWarn(ui.IconWarn), r.Path)
	default:
		fmt.Fprintf(w, "%s %s (%d snippets)\n", ui.RenderPass(ui.IconPass), r.Path, r.Snippets)
	}
	for _, p := range r.Problems {
		fmt.Fprintf(w, "  snippet %d: %s\n", p.Snippet, p.Problem)
	}
}

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Work with study specification files",
}

var specValidateCmd = &cobra.Command{
	Use:   "validate SPEC_FILE|ACQ_DIR...",
	Short: "Check study specification files without running any procedure",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// A dataset is optional here; it only contributes configuration.
		if ds, err := dataset.Require(datasetPath); err == nil {
			if err := config.LoadDataset(ds.Root()); err != nil {
				WarnError("%v", err)
			}
		}
		filename := config.StudySpecFilename()

		reports := make([]fileReport, 0, len(args))
		failed := false
		for _, arg := range args {
			path := arg
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				path = filepath.Join(path, filename)
			}
			r := validateFile(path, path)
			failed = failed || r.failed()
			reports = append(reports, r)
			if !jsonOutput {
				printReport(os.Stdout, r)
			}
		}
		if jsonOutput {
			outputJSON(reports)
		}
		if failed {
			shutdown()
			exit(1)
		}
	},
}

func init() {
	specCmd.AddCommand(specValidateCmd)
	rootCmd.AddCommand(specCmd)
}
