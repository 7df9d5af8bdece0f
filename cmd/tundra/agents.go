package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/tundra/internal/executor"
	"github.com/cloud-shuttle/tundra/pkg/types"
)

func agentsCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List supported agent CLIs and whether they are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CLI\tBINARY\tMODEL\tARGS\tINSTALLED")

			for _, cli := range types.AllCLITypes {
				adapter := executor.AdapterFor(cli)
				installed := "no"
				if path, err := executor.CheckInstalled(cli); err == nil {
					installed = path
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					cli, adapter.BinaryName(), executor.DefaultModel(cli),
					strings.Join(adapter.DefaultArgs(), " "), installed)
			}

			return w.Flush()
		},
	}
}
