package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sloppylopez/stablemock/pkg/cli/internal/output"
	"github.com/sloppylopez/stablemock/pkg/detect"
	"github.com/sloppylopez/stablemock/pkg/sidecar"
	"github.com/sloppylopez/stablemock/pkg/util"
)

// showEntry is one sidecar in the JSON output of `stablemock show`.
type showEntry struct {
	Path       string          `json:"path"`
	Result     *sidecar.Result `json:"result,omitempty"`
	Equivalent [][]string      `json:"equivalentEndpoints,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func newShowCmd(g *globalOptions) *cobra.Command {
	var class string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List detected dynamic fields",
		Long: `List the dynamic fields stored in every detected-fields.json under the stub
root, with their confidence tier and a few of the values seen. Endpoints of a
test that ended up with identical rule sets are reported together.`,
		Example: `  stablemock show
  stablemock show --class OrderServiceTest --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := sidecar.ReadAll(g.cfg.Root)
			if err != nil {
				return err
			}

			shown := make([]showEntry, 0, len(entries))
			for _, e := range entries {
				se := showEntry{Path: e.Path, Result: e.Result}
				if e.Err != nil {
					se.Error = e.Err.Error()
				} else {
					if class != "" && e.Result.TestClass != class {
						continue
					}
					se.Equivalent = equivalentEndpoints(e.Result)
				}
				shown = append(shown, se)
			}

			if g.jsonOutput {
				return output.JSON(cmd.OutOrStdout(), shown)
			}
			printShow(cmd.OutOrStdout(), cmd.ErrOrStderr(), shown)
			return nil
		},
	}

	cmd.Flags().StringVar(&class, "class", "", "Only show tests of this class")
	return cmd
}

func equivalentEndpoints(r *sidecar.Result) [][]string {
	byEndpoint := make(map[string][]detect.Rule)
	for _, f := range r.DynamicFields {
		if f.Endpoint == "" {
			continue
		}
		byEndpoint[f.Endpoint] = append(byEndpoint[f.Endpoint], f.Rule())
	}
	return detect.EquivalentGroups(byEndpoint)
}

func printShow(w, errW io.Writer, entries []showEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No detected fields")
		return
	}

	tw := output.Table(w)
	fmt.Fprintln(tw, "TEST\tENDPOINT\tFIELD\tCONFIDENCE\tVALUES\tGENERATED")
	var groups []string
	for _, e := range entries {
		if e.Error != "" {
			output.Warn(errW, "%s", e.Error)
			continue
		}
		r := e.Result
		test := r.ID().String()
		when := output.Ago(r.GeneratedAt)
		for _, f := range r.DynamicFields {
			values := strings.Join(util.TruncateAll(f.SampleValues, 24), ", ")
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				test, f.Endpoint, f.Rule(), output.Tier(f.Confidence), values, when)
		}
		for _, p := range r.ExplicitPatterns {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				test, "*", p, output.Muted("EXPLICIT"), "", when)
		}
		for _, group := range e.Equivalent {
			groups = append(groups, fmt.Sprintf("%s: %s", test, strings.Join(group, " = ")))
		}
	}
	_ = tw.Flush()

	if len(groups) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Endpoints sharing one rule set:")
		for _, g := range groups {
			fmt.Fprintf(w, "  %s\n", g)
		}
	}
}
