package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockproxy/pkg/config"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configFile string
	configDir  string
	env        string
	jsonOutput bool
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"listen":       "server.listen",
	"admin-listen": "admin.listen",
	"upstream":     "upstream.url",
	"rules":        "rules.files",
	"watch":        "rules.watch",
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "mockproxy",
		Short: "mockproxy virtualizes HTTP APIs and proxies everything else",
		Long: `mockproxy answers requests that match a virtualization rule with a synthetic
response and forwards every other request to the real upstream.

Configuration is layered: <config-dir>/default.toml, <config-dir>/<env>.toml,
--config, MOCKPROXY_* environment variables and finally command line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configFile, "config", "c", "", "Path to a configuration file (TOML, YAML or JSON)")
	pf.StringVar(&g.configDir, "config-dir", "", "Directory holding default.toml and <env>.toml")
	pf.StringVarP(&g.env, "env", "e", "", "Environment overlay to read from the config directory")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (text, json, auto)")
	pf.BoolVar(&g.jsonOutput, "json", false, "Output command results in JSON format")

	root.AddCommand(
		newServeCommand(g),
		newValidateCommand(g),
		newRulesCommand(g),
		newExplainCommand(g),
		newVersionCommand(g),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration for cmd.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	opts := []config.LoaderOption{
		config.WithConfigDir(g.configDir),
		config.WithEnv(g.env),
		config.WithConfigFile(g.configFile),
	}
	for name, key := range flagKeys {
		opts = append(opts, config.WithFlag(key, cmd.Flags().Lookup(name)))
	}

	cfg, err := config.NewLoader(opts...).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
