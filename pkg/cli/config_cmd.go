package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sloppylopez/stablemock/pkg/cli/internal/output"
	"github.com/sloppylopez/stablemock/pkg/config"
)

// configOutput is the JSON shape of `stablemock config`.
type configOutput struct {
	File    string            `json:"file,omitempty"`
	Config  *config.Config    `json:"config"`
	Sources map[string]string `json:"sources,omitempty"`
}

func newConfigCmd(g *globalOptions) *cobra.Command {
	var sources bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Print the configuration after defaults, the config file, STABLEMOCK_*
environment variables and flags have been applied. A configuration that does
not validate is reported as an error.`,
		Example: `  stablemock config
  stablemock config --sources
  STABLEMOCK_SAMPLE_CAP=5 stablemock config --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if g.jsonOutput {
				return output.JSON(w, configOutput{File: g.cfg.Path, Config: g.cfg, Sources: g.cfg.Sources})
			}

			if sources {
				keys := make([]string, 0, len(g.cfg.Sources))
				for k := range g.cfg.Sources {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				tw := output.Table(w)
				fmt.Fprintln(tw, "KEY\tSOURCE")
				for _, k := range keys {
					fmt.Fprintf(tw, "%s\t%s\n", k, g.cfg.Sources[k])
				}
				return tw.Flush()
			}

			if g.cfg.Path != "" {
				fmt.Fprintf(w, "# %s\n", g.cfg.Path)
			}
			data, err := yaml.Marshal(g.cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = w.Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&sources, "sources", false, "Show where each value came from")
	return cmd
}
