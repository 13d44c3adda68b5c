package ruleeval

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// PredicateDoc is the stored form of a Predicate, shared by the JSON columns
// and the YAML rule files.
type PredicateDoc struct {
	Kind    string         `json:"kind" yaml:"kind"`
	Value   *float64       `json:"value,omitempty" yaml:"value,omitempty"`
	Values  []string       `json:"values,omitempty" yaml:"values,omitempty"`
	Minutes *float64       `json:"minutes,omitempty" yaml:"minutes,omitempty"`
	Key     string         `json:"key,omitempty" yaml:"key,omitempty"`
	Equals  string         `json:"equals,omitempty" yaml:"equals,omitempty"`
	Items   []PredicateDoc `json:"items,omitempty" yaml:"items,omitempty"`
	Item    *PredicateDoc  `json:"item,omitempty" yaml:"item,omitempty"`
	Expr    string         `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// DecodePredicate never fails: anything it cannot interpret becomes Malformed.
func DecodePredicate(doc *PredicateDoc) Predicate {
	if doc == nil {
		return nil
	}
	switch Kind(doc.Kind) {
	case KindAlways:
		return Always{}
	case KindMinValue:
		if doc.Value == nil {
			return Malformed{Reason: "min_value: value is required"}
		}
		return MinValue{Min: *doc.Value}
	case KindMaxValue:
		if doc.Value == nil {
			return Malformed{Reason: "max_value: value is required"}
		}
		return MaxValue{Max: *doc.Value}
	case KindIndustryIn:
		return IndustryIn{Industries: append([]string(nil), doc.Values...)}
	case KindSourceIn:
		return SourceIn{Sources: append([]string(nil), doc.Values...)}
	case KindTierIn:
		return TierIn{Tiers: append([]string(nil), doc.Values...)}
	case KindMinAge:
		if doc.Minutes == nil {
			return Malformed{Reason: "min_age: minutes is required"}
		}
		age, ok := minutesDuration(*doc.Minutes)
		if !ok {
			return Malformed{Reason: fmt.Sprintf("min_age: minutes %v is out of range", *doc.Minutes)}
		}
		return MinAge{Age: age}
	case KindAttributeEquals:
		return AttributeEquals{Key: doc.Key, Value: doc.Equals}
	case KindAll:
		return All{Items: decodeItems(doc.Items)}
	case KindAny:
		return Any{Items: decodeItems(doc.Items)}
	case KindNot:
		if doc.Item == nil {
			return Malformed{Reason: "not: item is required"}
		}
		return Not{Item: DecodePredicate(doc.Item)}
	case KindExpr:
		return Expr{Source: doc.Expr}
	case "":
		return Malformed{Reason: "condition kind is required"}
	default:
		return Malformed{Reason: fmt.Sprintf("unknown condition kind %q", doc.Kind)}
	}
}

func decodeItems(docs []PredicateDoc) []Predicate {
	out := make([]Predicate, 0, len(docs))
	for i := range docs {
		out = append(out, DecodePredicate(&docs[i]))
	}
	return out
}

func EncodePredicate(p Predicate) (*PredicateDoc, error) {
	if p == nil {
		return nil, nil
	}
	doc := &PredicateDoc{Kind: string(p.Kind())}
	switch t := p.(type) {
	case Always:
	case MinValue:
		doc.Value = &t.Min
	case MaxValue:
		doc.Value = &t.Max
	case IndustryIn:
		doc.Values = append([]string(nil), t.Industries...)
	case SourceIn:
		doc.Values = append([]string(nil), t.Sources...)
	case TierIn:
		doc.Values = append([]string(nil), t.Tiers...)
	case MinAge:
		m := t.Age.Minutes()
		doc.Minutes = &m
	case AttributeEquals:
		doc.Key = t.Key
		doc.Equals = t.Value
	case All:
		items, err := encodeItems(t.Items)
		if err != nil {
			return nil, err
		}
		doc.Items = items
	case Any:
		items, err := encodeItems(t.Items)
		if err != nil {
			return nil, err
		}
		doc.Items = items
	case Not:
		item, err := EncodePredicate(t.Item)
		if err != nil {
			return nil, err
		}
		doc.Item = item
	case Expr:
		doc.Expr = t.Source
	case Malformed:
		return nil, errors.New("ruleeval: cannot encode malformed condition: " + t.Reason)
	default:
		return nil, fmt.Errorf("ruleeval: cannot encode condition kind %q", p.Kind())
	}
	return doc, nil
}

func encodeItems(items []Predicate) ([]PredicateDoc, error) {
	out := make([]PredicateDoc, 0, len(items))
	for _, item := range items {
		doc, err := EncodePredicate(item)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			doc = &PredicateDoc{Kind: string(KindAlways)}
		}
		out = append(out, *doc)
	}
	return out, nil
}

// ParsePredicateJSON decodes a stored conditions column. An empty or null
// column means "always". Invalid JSON yields a Malformed predicate and the
// syntax error, so callers that only evaluate may ignore the error.
func ParsePredicateJSON(raw []byte) (Predicate, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var doc PredicateDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Malformed{Reason: "invalid conditions json"}, err
	}
	return DecodePredicate(&doc), nil
}

func MarshalPredicateJSON(p Predicate) (json.RawMessage, error) {
	doc, err := EncodePredicate(p)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(doc)
}

// RuleDoc is a rule as written in rule files. Active defaults to true.
type RuleDoc struct {
	ID         string        `json:"id" yaml:"id"`
	Name       string        `json:"name,omitempty" yaml:"name,omitempty"`
	Active     *bool         `json:"active,omitempty" yaml:"active,omitempty"`
	Priority   int           `json:"priority" yaml:"priority"`
	Strategy   string        `json:"strategy" yaml:"strategy"`
	Conditions *PredicateDoc `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

func (d RuleDoc) Rule() Rule {
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	return Rule{
		ID:         d.ID,
		Name:       d.Name,
		Active:     active,
		Priority:   d.Priority,
		Strategy:   Strategy(d.Strategy),
		Conditions: DecodePredicate(d.Conditions),
	}
}

func NewRuleDoc(r Rule) (RuleDoc, error) {
	cond, err := EncodePredicate(r.Conditions)
	if err != nil {
		return RuleDoc{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	active := r.Active
	return RuleDoc{
		ID:         r.ID,
		Name:       r.Name,
		Active:     &active,
		Priority:   r.Priority,
		Strategy:   string(r.Strategy),
		Conditions: cond,
	}, nil
}

// CandidateDoc is the file / request form of a Candidate.
type CandidateDoc struct {
	ID         string            `json:"id" yaml:"id"`
	Kind       string            `json:"kind,omitempty" yaml:"kind,omitempty"`
	Value      float64           `json:"value,omitempty" yaml:"value,omitempty"`
	Industry   string            `json:"industry,omitempty" yaml:"industry,omitempty"`
	Source     string            `json:"source,omitempty" yaml:"source,omitempty"`
	Tier       string            `json:"tier,omitempty" yaml:"tier,omitempty"`
	AgeMinutes float64           `json:"age_minutes,omitempty" yaml:"age_minutes,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

func (d CandidateDoc) Candidate() (Candidate, error) {
	age, ok := minutesDuration(d.AgeMinutes)
	if !ok {
		return Candidate{}, fmt.Errorf("candidate %s: age_minutes %v is out of range", d.ID, d.AgeMinutes)
	}
	return Candidate{
		ID:         d.ID,
		Kind:       CandidateKind(d.Kind),
		Value:      d.Value,
		Industry:   d.Industry,
		Source:     d.Source,
		Tier:       d.Tier,
		Age:        age,
		Attributes: d.Attributes,
	}, nil
}

// minutesDuration converts fractional minutes, failing when the result does
// not fit a time.Duration.
func minutesDuration(minutes float64) (time.Duration, bool) {
	ns := minutes * float64(time.Minute)
	if math.IsNaN(ns) || ns >= math.MaxInt64 || ns < math.MinInt64 {
		return 0, false
	}
	return time.Duration(ns), true
}

// CanonicalPredicateJSON parses raw strictly and re-encodes it. Unlike
// ParsePredicateJSON it rejects conditions that could never match. Empty
// input stays empty.
func CanonicalPredicateJSON(raw []byte) (json.RawMessage, error) {
	p, err := ParsePredicateJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions json: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	if err := Validate(p); err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	return MarshalPredicateJSON(p)
}
