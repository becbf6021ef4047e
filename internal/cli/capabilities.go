package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/storyloom/internal/capability"
	"github.com/mrz1836/storyloom/internal/config"
)

// AddCapabilitiesCommand adds the capabilities command to the root command.
func AddCapabilitiesCommand(root *cobra.Command, globals *GlobalFlags) {
	cmd := &cobra.Command{
		Use:     "capabilities",
		Aliases: []string{"caps"},
		Short:   "List capabilities in pipeline order",
		Long: `List the registered capabilities after configuration overrides, in the
order their hooks run (highest priority first).

Examples:
  storyloom capabilities
  storyloom capabilities --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			registry, err := buildCapabilities(cfg.Capabilities, GetLogger())
			if err != nil {
				return err
			}
			return runCapabilities(cmd.OutOrStdout(), globals.Output, registry.List())
		},
	}
	root.AddCommand(cmd)
}

func runCapabilities(w io.Writer, output string, infos []capability.Info) error {
	if output == OutputJSON {
		if infos == nil {
			infos = []capability.Info{}
		}
		return encodeJSONIndented(w, infos)
	}

	styles := newOutputStyles()
	_, _ = fmt.Fprintf(w, "%-20s  %-8s  %-8s  %s\n", "NAME", "PRIORITY", "STATE", "HOOKS")
	for _, info := range infos {
		state := styles.success.Render(fmt.Sprintf("%-8s", "enabled"))
		if !info.Enabled {
			state = styles.dim.Render(fmt.Sprintf("%-8s", "disabled"))
		}
		_, _ = fmt.Fprintf(w, "%-20s  %-8d  %s  %s\n", info.Name, info.Priority, state, strings.Join(info.Hooks, ", "))
	}
	return nil
}
