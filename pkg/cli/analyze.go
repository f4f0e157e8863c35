package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sloppylopez/stablemock/pkg/cli/internal/output"
	"github.com/sloppylopez/stablemock/pkg/orchestrator"
	"github.com/sloppylopez/stablemock/pkg/sidecar"
)

// analyzeOutput is the JSON shape of `stablemock analyze`.
type analyzeOutput struct {
	Analysis *orchestrator.Report        `json:"analysis"`
	Sidecar  string                      `json:"sidecar,omitempty"`
	Prepare  *orchestrator.PrepareReport `json:"prepare,omitempty"`
}

func newAnalyzeCmd(g *globalOptions) *cobra.Command {
	var (
		src     sourceOptions
		test    testOptions
		marker  int
		rewrite bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Detect dynamic fields in a test's captured requests",
		Long: `Attribute the exchanges captured since --marker to a test, add their request
bodies to the stored samples and compare the samples of each endpoint. Fields
whose values differ become ignore rules in the test's detected-fields.json.

Endpoints with fewer than two parseable samples are deferred until a later
run supplies more. Rules are only ever added.`,
		Example: `  # Remember the journal size, run the test, then analyze what it sent
  n=$(stablemock marker --wiremock http://localhost:8080)
  go test ./... -run TestOrders
  stablemock analyze --wiremock http://localhost:8080 --marker "$n" --class OrderServiceTest --method createsOrder

  # Analyze a saved export and rewrite the mappings right away
  stablemock analyze --export exchanges.json --test TestOrders/creates_order --rewrite`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := test.id()
			if err != nil {
				return err
			}
			log, err := src.open()
			if err != nil {
				return err
			}
			o, err := g.orchestrator()
			if err != nil {
				return err
			}

			report, err := o.AnalyzeAndPersist(cmd.Context(), log, marker, id)
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}
			out := analyzeOutput{Analysis: report}
			if report.Result != nil {
				out.Sidecar = id.SidecarPath(g.cfg.Root)
			}
			if rewrite {
				out.Prepare, err = o.Prepare(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("rewriting mappings failed: %w", err)
				}
			}

			if g.jsonOutput {
				return output.JSON(cmd.OutOrStdout(), out)
			}
			printAnalysis(cmd.OutOrStdout(), id, marker, out)
			return nil
		},
	}

	src.addFlags(cmd)
	test.addFlags(cmd)
	cmd.Flags().IntVar(&marker, "marker", 0, "Journal size before the test ran (see 'stablemock marker')")
	cmd.Flags().BoolVar(&rewrite, "rewrite", false, "Rewrite the test's mappings after analysis")
	return cmd
}

func printAnalysis(w io.Writer, id sidecar.TestID, marker int, out analyzeOutput) {
	r := out.Analysis
	if r.NewExchanges == 0 {
		fmt.Fprintf(w, "%s: no new exchanges since marker %d\n", id, marker)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", id, output.Count(r.NewExchanges, "new exchange", "new exchanges"))

	if len(r.Endpoints) > 0 {
		tw := output.Table(w)
		fmt.Fprintln(tw, "ENDPOINT\tSAMPLES\tRULES")
		for _, e := range r.Endpoints {
			rules := strings.Join(e.Rules, ", ")
			switch {
			case e.Deferred:
				rules = output.Muted("(waiting for more samples)")
			case rules == "":
				rules = output.Muted("(none)")
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Endpoint, e.Samples, rules)
		}
		_ = tw.Flush()
	}

	switch {
	case r.Result == nil:
		fmt.Fprintln(w, "No sidecar written yet")
	case r.Written:
		fmt.Fprintf(w, "Updated %s\n", out.Sidecar)
	default:
		fmt.Fprintf(w, "Unchanged %s\n", out.Sidecar)
	}
	if out.Prepare != nil {
		printPrepare(w, out.Prepare)
	}
}
