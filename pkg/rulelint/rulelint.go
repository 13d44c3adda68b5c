// Package rulelint runs admission checks over a whole rule set before it is
// saved. The checks live in an embedded Rego module.
package rulelint

import (
	"cmp"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/jacksonlee411/opsdesk/pkg/ruleeval"
	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed rulelint.rego
var policy string

type Finding struct {
	Code    string `json:"code"`
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

type Report struct {
	Deny []Finding `json:"deny"`
	Warn []Finding `json:"warn"`
}

func (r Report) OK() bool { return len(r.Deny) == 0 }

func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	msgs := make([]string, 0, len(r.Deny))
	for _, f := range r.Deny {
		msgs = append(msgs, f.Message)
	}
	return errors.New("rulelint: " + strings.Join(msgs, "; "))
}

type Linter struct {
	query rego.PreparedEvalQuery
}

func New(ctx context.Context) (*Linter, error) {
	q, err := rego.New(
		rego.Query("deny := data.opsdesk.rulelint.deny; warn := data.opsdesk.rulelint.warn"),
		rego.Module("rulelint.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	return &Linter{query: q}, nil
}

func (l *Linter) Lint(ctx context.Context, rules []ruleeval.Rule) (Report, error) {
	rs, err := l.query.Eval(ctx, rego.EvalInput(lintInput(rules)))
	if err != nil {
		return Report{}, err
	}
	if len(rs) == 0 {
		return Report{}, errors.New("rulelint: empty result")
	}

	var report Report
	if report.Deny, err = findings(rs[0].Bindings["deny"]); err != nil {
		return Report{}, err
	}
	if report.Warn, err = findings(rs[0].Bindings["warn"]); err != nil {
		return Report{}, err
	}
	return report, nil
}

func lintInput(rules []ruleeval.Rule) map[string]any {
	items := make([]any, 0, len(rules))
	for _, r := range rules {
		malformed := ""
		if err := ruleeval.Validate(r.Conditions); err != nil {
			malformed = err.Error()
		}
		items = append(items, map[string]any{
			"id":            r.ID,
			"name":          r.Name,
			"active":        r.Active,
			"priority":      r.Priority,
			"strategy":      string(r.Strategy),
			"unconditional": r.Unconditional(),
			"malformed":     malformed,
		})
	}
	return map[string]any{"rules": items}
}

func findings(v any) ([]Finding, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out []Finding
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b Finding) int {
		if c := cmp.Compare(a.Code, b.Code); c != 0 {
			return c
		}
		return cmp.Compare(a.RuleID, b.RuleID)
	})
	return out, nil
}
