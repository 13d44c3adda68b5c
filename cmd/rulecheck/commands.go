package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jacksonlee411/opsdesk/pkg/ruleeval"
	"github.com/jacksonlee411/opsdesk/pkg/rulelint"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var errLintDenied = errors.New("rule set has deny findings")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rulecheck",
		Short:         "Evaluate and lint assignment and escalation rule files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSelectCmd(), newLintCmd())
	return root
}

func newSelectCmd() *cobra.Command {
	var rulesPath, candidatePath string
	var useFallback bool

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Print the rule a candidate resolves to",
		Long: `Loads a YAML (or JSON) list of rules and a single candidate, runs the
priority-ordered evaluation and prints the decision with its trace as JSON.
Exits non-zero when no rule applies.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rules, err := loadRules(rulesPath)
			if err != nil {
				return err
			}
			var doc ruleeval.CandidateDoc
			if err := loadYAML(candidatePath, &doc); err != nil {
				return err
			}

			var fallback *ruleeval.Rule
			if useFallback {
				fb := ruleeval.DefaultFallback()
				fallback = &fb
			}
			candidate, err := doc.Candidate()
			if err != nil {
				return err
			}
			d := ruleeval.Explain(rules, candidate, fallback)
			if err := writeDecision(cmd.OutOrStdout(), d); err != nil {
				return err
			}
			return d.Err()
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "rules file (required)")
	cmd.Flags().StringVar(&candidatePath, "candidate", "", "candidate file (required)")
	cmd.Flags().BoolVar(&useFallback, "fallback", false, "resolve unmatched candidates to the default round-robin rule")
	_ = cmd.MarkFlagRequired("rules")
	_ = cmd.MarkFlagRequired("candidate")
	return cmd
}

func newLintCmd() *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Check a rule set for deny and warn findings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rules, err := loadRules(rulesPath)
			if err != nil {
				return err
			}
			linter, err := rulelint.New(cmd.Context())
			if err != nil {
				return err
			}
			report, err := linter.Lint(cmd.Context(), rules)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, f := range report.Deny {
				fmt.Fprintf(out, "DENY %s %s: %s\n", f.Code, f.RuleID, f.Message)
			}
			for _, f := range report.Warn {
				fmt.Fprintf(out, "WARN %s %s: %s\n", f.Code, f.RuleID, f.Message)
			}
			if !report.OK() {
				return errLintDenied
			}
			fmt.Fprintf(out, "OK: %d rules\n", len(rules))
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "rules file (required)")
	_ = cmd.MarkFlagRequired("rules")
	return cmd
}

func loadRules(path string) ([]ruleeval.Rule, error) {
	var docs []ruleeval.RuleDoc
	if err := loadYAML(path, &docs); err != nil {
		return nil, err
	}
	rules := make([]ruleeval.Rule, 0, len(docs))
	for _, d := range docs {
		rules = append(rules, d.Rule())
	}
	return rules, nil
}

// loadYAML also accepts JSON, which is a subset of YAML.
func loadYAML(path string, dst any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

type decisionOutput struct {
	RuleID    string       `json:"rule_id,omitempty"`
	RuleName  string       `json:"rule_name,omitempty"`
	Strategy  string       `json:"strategy,omitempty"`
	Matched   bool         `json:"matched"`
	Fallback  bool         `json:"fallback"`
	Evaluated int          `json:"evaluated"`
	Skipped   int          `json:"skipped"`
	Steps     []stepOutput `json:"steps"`
	Brief     string       `json:"brief"`
}

type stepOutput struct {
	RuleID   string `json:"rule_id"`
	Priority int    `json:"priority"`
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason,omitempty"`
}

func writeDecision(w io.Writer, d ruleeval.Decision) error {
	out := decisionOutput{
		Matched:   d.Matched,
		Fallback:  d.Fallback,
		Evaluated: d.Evaluated,
		Skipped:   d.Skipped,
		Steps:     make([]stepOutput, 0, len(d.Steps)),
		Brief:     d.Brief(),
	}
	if d.Applies() {
		out.RuleID = d.Rule.ID
		out.RuleName = d.Rule.Name
		out.Strategy = string(d.Rule.Strategy)
	}
	for _, s := range d.Steps {
		out.Steps = append(out.Steps, stepOutput{RuleID: s.RuleID, Priority: s.Priority, Outcome: string(s.Outcome), Reason: s.Reason})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
