package ruleeval

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type Kind string

const (
	KindAlways          Kind = "always"
	KindMinValue        Kind = "min_value"
	KindMaxValue        Kind = "max_value"
	KindIndustryIn      Kind = "industry_in"
	KindSourceIn        Kind = "source_in"
	KindTierIn          Kind = "tier_in"
	KindMinAge          Kind = "min_age"
	KindAttributeEquals Kind = "attribute_equals"
	KindAll             Kind = "all"
	KindAny             Kind = "any"
	KindNot             Kind = "not"
	KindExpr            Kind = "expr"
	KindMalformed       Kind = "malformed"
)

// Predicate is a closed set of condition kinds. New kinds are added here and
// in Matches/Validate; the evaluator itself never changes.
type Predicate interface {
	Kind() Kind
	isPredicate()
}

type Always struct{}

type MinValue struct{ Min float64 }

type MaxValue struct{ Max float64 }

type IndustryIn struct{ Industries []string }

type SourceIn struct{ Sources []string }

type TierIn struct{ Tiers []string }

type MinAge struct{ Age time.Duration }

type AttributeEquals struct {
	Key   string
	Value string
}

type All struct{ Items []Predicate }

type Any struct{ Items []Predicate }

type Not struct{ Item Predicate }

// Malformed stands in for a stored condition that could not be understood.
// It never matches.
type Malformed struct{ Reason string }

func (Always) Kind() Kind          { return KindAlways }
func (MinValue) Kind() Kind        { return KindMinValue }
func (MaxValue) Kind() Kind        { return KindMaxValue }
func (IndustryIn) Kind() Kind      { return KindIndustryIn }
func (SourceIn) Kind() Kind        { return KindSourceIn }
func (TierIn) Kind() Kind          { return KindTierIn }
func (MinAge) Kind() Kind          { return KindMinAge }
func (AttributeEquals) Kind() Kind { return KindAttributeEquals }
func (All) Kind() Kind             { return KindAll }
func (Any) Kind() Kind             { return KindAny }
func (Not) Kind() Kind             { return KindNot }
func (Malformed) Kind() Kind       { return KindMalformed }

func (Always) isPredicate()          {}
func (MinValue) isPredicate()        {}
func (MaxValue) isPredicate()        {}
func (IndustryIn) isPredicate()      {}
func (SourceIn) isPredicate()        {}
func (TierIn) isPredicate()          {}
func (MinAge) isPredicate()          {}
func (AttributeEquals) isPredicate() {}
func (All) isPredicate()             {}
func (Any) isPredicate()             {}
func (Not) isPredicate()             {}
func (Malformed) isPredicate()       {}

// Matches evaluates p against c. A nil predicate matches everything; a
// predicate that fails Validate matches nothing.
func Matches(p Predicate, c Candidate) bool {
	if p == nil {
		return true
	}
	if Validate(p) != nil {
		return false
	}
	return match(p, c)
}

func match(p Predicate, c Candidate) bool {
	switch t := p.(type) {
	case Always:
		return true
	case MinValue:
		return c.Value >= t.Min
	case MaxValue:
		return c.Value <= t.Max
	case IndustryIn:
		return containsFold(t.Industries, c.Industry)
	case SourceIn:
		return containsFold(t.Sources, c.Source)
	case TierIn:
		return containsFold(t.Tiers, c.Tier)
	case MinAge:
		return c.Age >= t.Age
	case AttributeEquals:
		v, ok := c.Attributes[t.Key]
		return ok && v == t.Value
	case All:
		for _, item := range t.Items {
			if !match(item, c) {
				return false
			}
		}
		return true
	case Any:
		for _, item := range t.Items {
			if match(item, c) {
				return true
			}
		}
		return false
	case Not:
		return !match(t.Item, c)
	case Expr:
		return t.eval(c)
	default:
		return false
	}
}

var errNilItem = errors.New("nested condition is empty")

// Validate reports why p can never match, or nil when p is well formed.
func Validate(p Predicate) error {
	switch t := p.(type) {
	case nil, Always:
		return nil
	case MinValue:
		return finite("min_value", t.Min)
	case MaxValue:
		return finite("max_value", t.Max)
	case IndustryIn:
		return nonEmptySet("industry_in", t.Industries)
	case SourceIn:
		return nonEmptySet("source_in", t.Sources)
	case TierIn:
		return nonEmptySet("tier_in", t.Tiers)
	case MinAge:
		if t.Age < 0 {
			return errors.New("min_age: age must not be negative")
		}
		return nil
	case AttributeEquals:
		if strings.TrimSpace(t.Key) == "" {
			return errors.New("attribute_equals: key is required")
		}
		return nil
	case All:
		return validateItems("all", t.Items)
	case Any:
		if len(t.Items) == 0 {
			return errors.New("any: at least one condition is required")
		}
		return validateItems("any", t.Items)
	case Not:
		if t.Item == nil {
			return fmt.Errorf("not: %w", errNilItem)
		}
		if err := Validate(t.Item); err != nil {
			return fmt.Errorf("not: %w", err)
		}
		return nil
	case Expr:
		_, err := t.program()
		return err
	case Malformed:
		return errors.New(t.Reason)
	default:
		return fmt.Errorf("unsupported condition kind %q", p.Kind())
	}
}

func validateItems(kind string, items []Predicate) error {
	for i, item := range items {
		if item == nil {
			return fmt.Errorf("%s[%d]: %w", kind, i, errNilItem)
		}
		if err := Validate(item); err != nil {
			return fmt.Errorf("%s[%d]: %w", kind, i, err)
		}
	}
	return nil
}

func finite(kind string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s: value must be a finite number", kind)
	}
	return nil
}

func nonEmptySet(kind string, values []string) error {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: at least one value is required", kind)
}

func containsFold(set []string, v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	for _, s := range set {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}
