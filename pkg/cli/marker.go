package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sloppylopez/stablemock/pkg/cli/internal/output"
	"github.com/sloppylopez/stablemock/pkg/journal"
)

func newMarkerCmd(g *globalOptions) *cobra.Command {
	var (
		src   sourceOptions
		reset bool
	)

	cmd := &cobra.Command{
		Use:   "marker",
		Short: "Print the current size of a capture log",
		Long: `Print how many exchanges the capture log holds right now. Take the marker
before a test runs and pass it to 'stablemock analyze --marker' afterwards so
only the test's own exchanges are attributed to it.`,
		Example: `  stablemock marker --wiremock http://localhost:8080
  stablemock marker --wiremock http://localhost:8080 --reset`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := src.open()
			if err != nil {
				return err
			}
			if reset {
				wm, ok := log.(*journal.WireMock)
				if !ok {
					return fmt.Errorf("--reset needs --wiremock")
				}
				if err := wm.Reset(cmd.Context()); err != nil {
					return err
				}
			}

			o, err := g.orchestrator()
			if err != nil {
				return err
			}
			n, err := o.Marker(cmd.Context(), log)
			if err != nil {
				return err
			}
			if g.jsonOutput {
				return output.JSON(cmd.OutOrStdout(), map[string]int{"marker": n})
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}

	src.addFlags(cmd)
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear the WireMock request journal first")
	return cmd
}
