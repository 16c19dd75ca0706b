package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockproxy/pkg/config"
	"github.com/getmockd/mockproxy/pkg/logging"
	"github.com/getmockd/mockproxy/pkg/rule"
)

// ValidateOutput is the JSON result of the validate command.
type ValidateOutput struct {
	Valid  bool     `json:"valid"`
	Files  []string `json:"files"`
	Rules  int      `json:"rules"`
	Errors []string `json:"errors,omitempty"`
}

func newValidateCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and compile every rule",
		Long: `Load the configuration and rule files exactly as serve would, and report
every problem found. Exits non-zero when the configuration or any rule is invalid.`,
		Example: `  mockproxy validate -c mockproxy.toml
  mockproxy validate --rules 'rules/**/*.yaml' --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := ValidateOutput{}
			err := validate(cmd, g, &out)
			if err != nil {
				out.Errors = errorLines(err)
			}
			out.Valid = err == nil

			w := cmd.OutOrStdout()
			if g.jsonOutput {
				if perr := printJSON(w, out); perr != nil {
					return perr
				}
			} else {
				printValidation(w, out)
			}
			if err != nil {
				return errors.New("configuration is invalid")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceP("rules", "r", nil, "Rule file patterns (doublestar globs)")
	f.StringP("upstream", "u", "", "Default upstream base URL for passthrough traffic")
	return cmd
}

func validate(cmd *cobra.Command, g *globalFlags, out *ValidateOutput) error {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}
	src, err := config.NewRuleSource(cfg, logging.Nop())
	if err != nil {
		return err
	}
	if out.Files, err = src.Files(); err != nil {
		return err
	}
	table, err := src.Load(cmd.Context())
	if err != nil {
		return err
	}
	out.Rules = table.Len()
	return nil
}

// errorLines flattens aggregated errors into one line per problem.
func errorLines(err error) []string {
	var rerrs rule.ValidationErrors
	if errors.As(err, &rerrs) {
		lines := make([]string, len(rerrs))
		for i, e := range rerrs {
			lines[i] = e.Error()
		}
		return lines
	}
	var cerrs config.ValidationErrors
	if errors.As(err, &cerrs) {
		lines := make([]string, len(cerrs))
		for i, e := range cerrs {
			lines[i] = e.Error()
		}
		return lines
	}
	return []string{err.Error()}
}

func printValidation(w io.Writer, out ValidateOutput) {
	if out.Valid {
		fmt.Fprintf(w, "configuration valid: %d rules from %d files\n", out.Rules, len(out.Files))
		return
	}
	fmt.Fprintln(w, "configuration invalid:")
	for _, line := range out.Errors {
		fmt.Fprintf(w, "  - %s\n", line)
	}
}
