package cli

import (
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockproxy/pkg/config"
	"github.com/getmockd/mockproxy/pkg/engine"
	"github.com/getmockd/mockproxy/pkg/logging"
	"github.com/getmockd/mockproxy/pkg/rule"
)

// RuleOutput is one row of the rules command.
type RuleOutput struct {
	ID          string   `json:"id"`
	Index       int      `json:"index"`
	Priority    int      `json:"priority"`
	Specificity int      `json:"specificity"`
	Outcome     string   `json:"outcome"`
	Constraints []string `json:"constraints"`
}

func newRulesCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the compiled rules in declaration order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := loadTable(cmd, g)
			if err != nil {
				return err
			}
			rows := make([]RuleOutput, 0, table.Len())
			for _, r := range table.Rules() {
				rows = append(rows, ruleOutput(r))
			}
			if g.jsonOutput {
				return printJSON(cmd.OutOrStdout(), rows)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tID\tPRIORITY\tSPECIFICITY\tOUTCOME\tCONSTRAINTS")
			for _, r := range rows {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\n",
					r.Index, r.ID, r.Priority, r.Specificity, r.Outcome, strings.Join(r.Constraints, "; "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceP("rules", "r", nil, "Rule file patterns (doublestar globs)")
	return cmd
}

func newExplainCommand(g *globalFlags) *cobra.Command {
	var headers []string
	cmd := &cobra.Command{
		Use:   "explain METHOD URL",
		Short: "Show how a request would be resolved against the rules",
		Example: `  mockproxy explain GET /health
  mockproxy explain POST http://api.local/orders -H 'X-Tenant: acme'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadTable(cmd, g)
			if err != nil {
				return err
			}
			req, err := http.NewRequest(strings.ToUpper(args[0]), args[1], http.NoBody)
			if err != nil {
				return fmt.Errorf("invalid request: %w", err)
			}
			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("invalid header %q, expected 'Name: value'", h)
				}
				req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			exp := engine.NewResolver(table).Explain(req)
			if g.jsonOutput {
				return printJSON(cmd.OutOrStdout(), exp)
			}

			w := cmd.OutOrStdout()
			winner := exp.Winner
			if winner == "" {
				winner = "(none)"
			}
			fmt.Fprintf(w, "decision: %s\nwinner:   %s\n\n", exp.Decision, winner)
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSPECIFICITY\tMATCHED\tDETAIL")
			for _, tr := range exp.Rules {
				detail := tr.FailedConstraint
				if tr.Error != "" {
					detail = tr.FailedConstraint + " (" + tr.Error + ")"
				}
				fmt.Fprintf(tw, "%s\t%d\t%t\t%s\n", tr.RuleID, tr.Specificity, tr.Matched, detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Request header as 'Name: value' (repeatable)")
	cmd.Flags().StringSliceP("rules", "r", nil, "Rule file patterns (doublestar globs)")
	return cmd
}

func loadTable(cmd *cobra.Command, g *globalFlags) (*rule.Table, error) {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	src, err := config.NewRuleSource(cfg, logging.Nop())
	if err != nil {
		return nil, err
	}
	return src.Load(cmd.Context())
}

func ruleOutput(r *rule.Rule) RuleOutput {
	matchers := r.Spec.Matchers()
	constraints := make([]string, len(matchers))
	for i, m := range matchers {
		constraints[i] = m.String()
	}
	return RuleOutput{
		ID:          r.ID,
		Index:       r.Index,
		Priority:    r.Priority(),
		Specificity: r.Specificity(),
		Outcome:     r.Outcome.Type,
		Constraints: constraints,
	}
}
