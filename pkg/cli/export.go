package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sloppylopez/stablemock/pkg/cli/internal/output"
	"github.com/sloppylopez/stablemock/pkg/journal"
)

func newExportCmd(g *globalOptions) *cobra.Command {
	var (
		src sourceOptions
		out string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Save a capture log as an exchange export file",
		Long: `Read a capture log and write its exchanges, oldest first, to an export file
that 'stablemock analyze --export' can read later. Useful for keeping the
traffic of a RECORD run after the capture server has stopped.`,
		Example: `  stablemock export --wiremock http://localhost:8080 -o exchanges.json
  stablemock export --cassette fixtures/orders.yaml -o exchanges.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return fmt.Errorf("--output is required")
			}
			log, err := src.open()
			if err != nil {
				return err
			}
			n, err := journal.WriteExport(cmd.Context(), out, log)
			if err != nil {
				return err
			}
			g.log.Info("exported capture log", "file", out, "exchanges", n)

			if g.jsonOutput {
				return output.JSON(cmd.OutOrStdout(), map[string]any{"file": out, "exchanges": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", output.Count(n, "exchange", "exchanges"), out)
			return nil
		},
	}

	src.addFlags(cmd)
	cmd.Flags().StringVarP(&out, "output", "o", "", "Export file to write")
	return cmd
}
