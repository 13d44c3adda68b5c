// Package ruleeval selects the single rule that applies to a candidate entity
// (a lead, a deal, a ticket) from a priority-ordered rule snapshot.
//
// Selection is a pure function of the rule slice and the candidate: nothing is
// cached between calls except compiled expression programs, which depend only
// on their source text.
package ruleeval

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Strategy string

const (
	StrategyRoundRobin   Strategy = "round_robin"
	StrategySkill        Strategy = "skill"
	StrategyPerformance  Strategy = "performance"
	StrategyAvailability Strategy = "availability"
	StrategyWorkload     Strategy = "workload"
)

var strategies = []Strategy{
	StrategyRoundRobin,
	StrategySkill,
	StrategyPerformance,
	StrategyAvailability,
	StrategyWorkload,
}

func Strategies() []Strategy {
	return append([]Strategy(nil), strategies...)
}

func ParseStrategy(raw string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range strategies {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("ruleeval: unknown strategy %q", raw)
}

// Rule is one entry of a rule snapshot. Strategy is carried through for the
// caller that applies the selection; the evaluator never reads it.
type Rule struct {
	ID         string
	Name       string
	Active     bool
	Priority   int
	Strategy   Strategy
	Conditions Predicate
}

// Unconditional reports whether the rule matches every candidate.
func (r Rule) Unconditional() bool {
	return alwaysMatches(r.Conditions)
}

// alwaysMatches is a structural check: nil, Always, and conjunctions of
// those (including the empty conjunction).
func alwaysMatches(p Predicate) bool {
	switch p := p.(type) {
	case nil, Always:
		return true
	case All:
		for _, item := range p.Items {
			if !alwaysMatches(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

const DefaultFallbackID = "default"

// DefaultFallback is the round-robin catch-all used when a caller opts into an
// implicit fallback.
func DefaultFallback() Rule {
	return Rule{
		ID:       DefaultFallbackID,
		Name:     "Default round robin",
		Active:   true,
		Priority: math.MaxInt,
		Strategy: StrategyRoundRobin,
	}
}

type CandidateKind string

const (
	CandidateLead   CandidateKind = "lead"
	CandidateDeal   CandidateKind = "deal"
	CandidateTicket CandidateKind = "ticket"
)

// Candidate is the entity being routed. Predicates only ever read it.
type Candidate struct {
	ID         string
	Kind       CandidateKind
	Value      float64
	Industry   string
	Source     string
	Tier       string
	Age        time.Duration
	Attributes map[string]string
}
