package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/storyloom/internal/config"
	"github.com/mrz1836/storyloom/internal/errors"
	"github.com/mrz1836/storyloom/internal/logging"
)

// ConfigShowFlags holds flags specific to the config show command.
type ConfigShowFlags struct {
	// Format is yaml or json.
	Format string
}

// AddConfigCommand adds the config command group to the root command.
func AddConfigCommand(root *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect storyloom configuration",
	}

	flags := &ConfigShowFlags{}
	show := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the effective configuration after merging, in order of precedence:
  - STORYLOOM_* environment variables
  - project config (.storyloom/config.yaml)
  - global config (~/.storyloom/config.yaml)
  - built-in defaults

Credentials embedded in URLs are masked.

Examples:
  storyloom config show
  storyloom config show --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd.Context(), cmd.OutOrStdout(), flags.Format)
		},
	}
	show.Flags().StringVarP(&flags.Format, "format", "f", "yaml", "output format (yaml or json)")
	cmd.AddCommand(show)

	root.AddCommand(cmd)
}

func runConfigShow(ctx context.Context, w io.Writer, format string) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return writeConfig(w, format, maskConfig(cfg), configSources())
}

// configSources lists the config files that exist, lowest precedence first.
func configSources() []string {
	var sources []string
	if path, err := config.GlobalConfigPath(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			sources = append(sources, path)
		}
	}
	if _, err := os.Stat(config.ProjectConfigPath()); err == nil {
		sources = append(sources, config.ProjectConfigPath())
	}
	return sources
}

func writeConfig(w io.Writer, format string, cfg *config.Config, sources []string) error {
	switch format {
	case OutputJSON:
		return encodeJSONIndented(w, cfg)
	case "yaml", "":
	default:
		return fmt.Errorf("%w: config format %q must be yaml or json", errors.ErrInvalidOutputFormat, format)
	}

	styles := newOutputStyles()
	if len(sources) == 0 {
		_, _ = fmt.Fprintln(w, styles.dim.Render("# sources: built-in defaults"))
	}
	for _, src := range sources {
		_, _ = fmt.Fprintln(w, styles.dim.Render("# source: "+src))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// maskConfig returns a copy with credentials stripped from connection URLs.
func maskConfig(cfg *config.Config) *config.Config {
	masked := *cfg
	masked.Storage.RedisURL = logging.SafeValue("redis_url", cfg.Storage.RedisURL)
	masked.Events.NATSURL = logging.SafeValue("nats_url", cfg.Events.NATSURL)

	masked.Providers.Endpoints = make(map[string]config.EndpointConfig, len(cfg.Providers.Endpoints))
	for id, ep := range cfg.Providers.Endpoints {
		ep.BaseURL = logging.SafeValue("base_url", ep.BaseURL)
		masked.Providers.Endpoints[id] = ep
	}
	return &masked
}
