package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sloppylopez/stablemock/pkg/cli/internal/output"
	"github.com/sloppylopez/stablemock/pkg/config"
	"github.com/sloppylopez/stablemock/pkg/orchestrator"
	"github.com/sloppylopez/stablemock/pkg/sidecar"
)

func newRewriteCmd(g *globalOptions) *cobra.Command {
	var (
		test testOptions
		all  bool
	)

	cmd := &cobra.Command{
		Use:     "rewrite",
		Aliases: []string{"prepare"},
		Short:   "Apply ignore rules to a test's stub mappings",
		Long: `Rewrite the mappings of a test so that fields named by its detected rules and
its configured explicit patterns match any value during playback.

JSON and GraphQL fields become ${json-unit.ignore}; XML elements become
${xmlunit.ignore} and the pattern gets enablePlaceholders: true. Everything
else in the mapping file is left byte for byte as it was.`,
		Example: `  stablemock rewrite --class OrderServiceTest --method createsOrder
  stablemock rewrite --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var ids []sidecar.TestID
			switch {
			case all && test.isSet():
				return fmt.Errorf("--all cannot be combined with a test selection")
			case all:
				var err error
				if ids, err = knownTests(g.cfg); err != nil {
					return err
				}
			default:
				id, err := test.id()
				if err != nil {
					return err
				}
				ids = []sidecar.TestID{id}
			}

			o, err := g.orchestrator()
			if err != nil {
				return err
			}
			reports := make([]*orchestrator.PrepareReport, 0, len(ids))
			for _, id := range ids {
				r, err := o.Prepare(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				reports = append(reports, r)
			}

			if g.jsonOutput {
				return output.JSON(cmd.OutOrStdout(), reports)
			}
			if len(reports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tests found")
			}
			for _, r := range reports {
				printPrepare(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}

	test.addFlags(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "Rewrite every test that has a sidecar or configured patterns")
	return cmd
}

// knownTests lists the tests with a sidecar under the root plus those
// configured with explicit patterns for a concrete method.
func knownTests(cfg *config.Config) ([]sidecar.TestID, error) {
	entries, err := sidecar.ReadAll(cfg.Root)
	if err != nil {
		return nil, err
	}
	seen := make(map[sidecar.TestID]bool)
	var ids []sidecar.TestID
	add := func(id sidecar.TestID) {
		if !seen[id] && id.Validate() == nil {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, e := range entries {
		if e.Err != nil {
			continue
		}
		add(e.Result.ID())
	}
	for _, t := range cfg.Tests {
		if t.Method != "" && t.Method != "*" {
			add(sidecar.TestID{Class: t.Class, Method: t.Method})
		}
	}
	slices.SortFunc(ids, func(a, b sidecar.TestID) int {
		return strings.Compare(a.String(), b.String())
	})
	return ids, nil
}

func printPrepare(w io.Writer, r *orchestrator.PrepareReport) {
	for _, bad := range r.Invalid {
		output.Warn(w, "%s: invalid ignore pattern %q skipped", r.ID, bad)
	}
	if len(r.Rules) == 0 {
		fmt.Fprintf(w, "%s: no ignore rules\n", r.ID)
		return
	}

	modified := 0
	for _, c := range r.Changes {
		if c.Modified {
			modified++
		}
	}
	fmt.Fprintf(w, "%s: %s, %s rewritten of %d\n", r.ID,
		output.Count(len(r.Rules), "rule", "rules"),
		output.Count(modified, "mapping", "mappings"), len(r.Changes))

	if len(r.Changes) == 0 {
		return
	}
	tw := output.Table(w)
	fmt.Fprintln(tw, "MAPPING\tAPPLIED\tSKIPPED\tSTATUS")
	for _, c := range r.Changes {
		status := "unchanged"
		if c.Modified {
			status = "rewritten"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", filepath.Base(c.Path), len(c.Applied), len(c.Skipped), status)
	}
	_ = tw.Flush()
}
