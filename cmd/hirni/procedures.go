package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/psychoinformatics-de/hirni/internal/procedure"
	"github.com/psychoinformatics-de/hirni/internal/subst"
	"github.com/psychoinformatics-de/hirni/internal/ui"
)

// procedureInfo is one entry of the procedures listing.
type procedureInfo struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	CallFormat string `json:"call_format"`
	Help       string `json:"help,omitempty"`
}

func describeProcedures(runner *procedure.ExecRunner) ([]procedureInfo, error) {
	procs, err := runner.Registry.List()
	if err != nil {
		return nil, err
	}
	infos := make([]procedureInfo, 0, len(procs))
	for _, p := range procs {
		infos = append(infos, procedureInfo{
			Name:       p.Name,
			Path:       p.Path,
			CallFormat: runner.CallFormat(p, subst.Env{}),
			Help:       p.Help(),
		})
	}
	return infos, nil
}

func printProcedures(w io.Writer, infos []procedureInfo, dirs []string) {
	if len(infos) == 0 {
		fmt.Fprintf(w, "No procedures found. Searched:\n")
		for _, d := range dirs {
			fmt.Fprintf(w, "  %s\n", d)
		}
		return
	}
	for i, p := range infos {
		fmt.Fprintf(w, "%s\n", ui.RenderAccent(p.Name))
		fmt.Fprintf(w, "  %s %s\n", ui.RenderMuted("path:"), p.Path)
		fmt.Fprintf(w, "  %s %s\n", ui.RenderMuted("call:"), p.CallFormat)
		if p.Help != "" {
			fmt.Fprintf(w, "  %s\n", p.Help)
		}
		if i < len(infos)-1 {
			fmt.Fprintln(w)
		}
	}
}

var proceduresCmd = &cobra.Command{
	Use:   "procedures",
	Short: "List the procedures available to the dataset",
	Run: func(cmd *cobra.Command, args []string) {
		runner := procedure.NewExecRunner(requireDataset())
		infos, err := describeProcedures(runner)
		if err != nil {
			FatalError("%v", err)
		}
		if jsonOutput {
			outputJSON(infos)
			return
		}
		printProcedures(cmd.OutOrStdout(), infos, runner.Registry.Dirs())
	},
}

func init() {
	rootCmd.AddCommand(proceduresCmd)
}
