package ruleeval

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// ErrNoApplicableRule is returned when no active rule matches and the caller
// supplied no fallback. Whether that means manual assignment is up to the
// caller.
var ErrNoApplicableRule = errors.New("ruleeval: no applicable rule")

type Outcome string

const (
	OutcomeMatched    Outcome = "matched"
	OutcomeNotMatched Outcome = "not_matched"
	OutcomeMalformed  Outcome = "malformed"
)

type Step struct {
	RuleID   string
	Priority int
	Outcome  Outcome
	Reason   string
}

// Decision is the result of one evaluation. When Matched is false and
// Fallback is false, Rule is the zero value and no rule applies.
type Decision struct {
	Rule      Rule
	Matched   bool
	Fallback  bool
	Evaluated int
	Skipped   int
	Steps     []Step
}

func (d Decision) Applies() bool {
	return d.Matched || d.Fallback
}

func (d Decision) Brief() string {
	switch {
	case d.Matched:
		return fmt.Sprintf("selected %s (priority=%d, evaluated=%d, skipped=%d)", d.Rule.ID, d.Rule.Priority, d.Evaluated, d.Skipped)
	case d.Fallback:
		return fmt.Sprintf("fallback %s (evaluated=%d, skipped=%d)", d.Rule.ID, d.Evaluated, d.Skipped)
	default:
		return fmt.Sprintf("no applicable rule (evaluated=%d, skipped=%d)", d.Evaluated, d.Skipped)
	}
}

func (d Decision) Err() error {
	if d.Applies() {
		return nil
	}
	return ErrNoApplicableRule
}

// Select returns the first active rule, in ascending priority order, whose
// conditions match c. Equal priorities keep their order in rules.
func Select(rules []Rule, c Candidate) (Rule, error) {
	d := Explain(rules, c, nil)
	return d.Rule, d.Err()
}

// SelectWithFallback behaves like Select but returns fallback instead of
// ErrNoApplicableRule.
func SelectWithFallback(rules []Rule, c Candidate, fallback Rule) (Rule, error) {
	d := Explain(rules, c, &fallback)
	return d.Rule, d.Err()
}

// Explain performs the same selection as Select and records how it got
// there. rules is never modified.
func Explain(rules []Rule, c Candidate, fallback *Rule) Decision {
	var d Decision

	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Active {
			d.Skipped++
			continue
		}
		ordered = append(ordered, r)
	}
	slices.SortStableFunc(ordered, func(a, b Rule) int {
		return cmp.Compare(a.Priority, b.Priority)
	})

	for _, r := range ordered {
		d.Evaluated++
		step := Step{RuleID: r.ID, Priority: r.Priority}
		if err := Validate(r.Conditions); err != nil {
			step.Outcome = OutcomeMalformed
			step.Reason = err.Error()
			d.Steps = append(d.Steps, step)
			continue
		}
		if !match(orAlways(r.Conditions), c) {
			step.Outcome = OutcomeNotMatched
			d.Steps = append(d.Steps, step)
			continue
		}
		step.Outcome = OutcomeMatched
		d.Steps = append(d.Steps, step)
		d.Rule = r
		d.Matched = true
		return d
	}

	if fallback != nil {
		d.Rule = *fallback
		d.Fallback = true
	}
	return d
}

func orAlways(p Predicate) Predicate {
	if p == nil {
		return Always{}
	}
	return p
}
