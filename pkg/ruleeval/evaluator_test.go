package ruleeval

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func highValueTechRules() []Rule {
	return []Rule{
		{
			ID:       "r1",
			Active:   true,
			Priority: 1,
			Strategy: StrategySkill,
			Conditions: All{Items: []Predicate{
				MinValue{Min: 50000},
				IndustryIn{Industries: []string{"Tech"}},
			}},
		},
		{ID: "r2", Active: true, Priority: 99, Strategy: StrategyRoundRobin},
	}
}

func TestSelect_Scenarios(t *testing.T) {
	t.Run("high value tech -> rule 1", func(t *testing.T) {
		got, err := Select(highValueTechRules(), Candidate{Value: 60000, Industry: "Tech"})
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if got.ID != "r1" {
			t.Fatalf("got=%s want=r1", got.ID)
		}
	})

	t.Run("low value retail -> unconditional rule 2", func(t *testing.T) {
		got, err := Select(highValueTechRules(), Candidate{Value: 10000, Industry: "Retail"})
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if got.ID != "r2" {
			t.Fatalf("got=%s want=r2", got.ID)
		}
	})

	t.Run("inactive rule 1 is skipped", func(t *testing.T) {
		rules := highValueTechRules()
		rules[0].Active = false
		got, err := Select(rules, Candidate{Value: 60000, Industry: "Tech"})
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if got.ID != "r2" {
			t.Fatalf("got=%s want=r2", got.ID)
		}
	})

	t.Run("empty rules -> no applicable rule", func(t *testing.T) {
		_, err := Select(nil, Candidate{Value: 60000, Industry: "Tech"})
		if !errors.Is(err, ErrNoApplicableRule) {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("empty rules with fallback -> fallback", func(t *testing.T) {
		got, err := SelectWithFallback(nil, Candidate{}, DefaultFallback())
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if got.ID != DefaultFallbackID || got.Strategy != StrategyRoundRobin {
			t.Fatalf("got=%+v", got)
		}
	})
}

func TestSelect_PriorityAndStability(t *testing.T) {
	rules := []Rule{
		{ID: "late", Active: true, Priority: 50},
		{ID: "tie-a", Active: true, Priority: 10},
		{ID: "tie-b", Active: true, Priority: 10},
		{ID: "off", Active: false, Priority: 0},
	}

	got, err := Select(rules, Candidate{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.ID != "tie-a" {
		t.Fatalf("got=%s want=tie-a", got.ID)
	}

	rules[1], rules[2] = rules[2], rules[1]
	got, err = Select(rules, Candidate{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.ID != "tie-b" {
		t.Fatalf("got=%s want=tie-b", got.ID)
	}
}

func TestSelect_DoesNotReorderInput(t *testing.T) {
	rules := []Rule{
		{ID: "b", Active: true, Priority: 2},
		{ID: "a", Active: true, Priority: 1},
	}
	if _, err := Select(rules, Candidate{}); err != nil {
		t.Fatalf("err=%v", err)
	}
	if rules[0].ID != "b" || rules[1].ID != "a" {
		t.Fatalf("input reordered: %v", rules)
	}
}

func TestSelect_NeverReturnsInactive(t *testing.T) {
	rules := []Rule{
		{ID: "a", Active: false, Priority: 1},
		{ID: "b", Active: false, Priority: 2},
	}
	got, err := Select(rules, Candidate{})
	if !errors.Is(err, ErrNoApplicableRule) {
		t.Fatalf("err=%v", err)
	}
	if got.ID != "" {
		t.Fatalf("got=%+v", got)
	}
}

func TestSelect_MalformedRuleNeverMatches(t *testing.T) {
	rules := []Rule{
		{ID: "bad-set", Active: true, Priority: 1, Conditions: IndustryIn{}},
		{ID: "bad-doc", Active: true, Priority: 2, Conditions: Malformed{Reason: "unknown condition kind"}},
		{ID: "bad-expr", Active: true, Priority: 3, Conditions: Expr{Source: "value >"}},
		{ID: "ok", Active: true, Priority: 4},
	}
	got, err := Select(rules, Candidate{Industry: "Tech"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.ID != "ok" {
		t.Fatalf("got=%s want=ok", got.ID)
	}
}

func TestSelect_Deterministic(t *testing.T) {
	rules := highValueTechRules()
	c := Candidate{Value: 75000, Industry: "tech"}
	first, err := Select(rules, c)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	for i := 0; i < 20; i++ {
		got, err := Select(rules, c)
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if got.ID != first.ID {
			t.Fatalf("iteration %d got=%s want=%s", i, got.ID, first.ID)
		}
	}
}

func TestSelect_ConcurrentCalls(t *testing.T) {
	rules := []Rule{
		{ID: "expr", Active: true, Priority: 1, Conditions: Expr{Source: `value >= 1000.0 && attrs["region"] == "emea"`}},
		{ID: "rest", Active: true, Priority: 2},
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := Candidate{Value: float64(i * 100), Attributes: map[string]string{"region": "emea"}}
			want := "rest"
			if c.Value >= 1000 {
				want = "expr"
			}
			got, err := Select(rules, c)
			if err != nil {
				errs <- err
				return
			}
			if got.ID != want {
				errs <- fmt.Errorf("value=%v got=%s want=%s", c.Value, got.ID, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestExplain(t *testing.T) {
	rules := []Rule{
		{ID: "off", Active: false, Priority: 0},
		{ID: "bad", Active: true, Priority: 1, Conditions: SourceIn{}},
		{ID: "miss", Active: true, Priority: 2, Conditions: MinValue{Min: 1e6}},
		{ID: "hit", Active: true, Priority: 3, Conditions: SourceIn{Sources: []string{"Referral"}}},
		{ID: "never", Active: true, Priority: 4},
	}

	d := Explain(rules, Candidate{Source: "referral"}, nil)
	if !d.Matched || d.Fallback || d.Rule.ID != "hit" {
		t.Fatalf("decision=%+v", d)
	}
	want := []Step{
		{RuleID: "bad", Priority: 1, Outcome: OutcomeMalformed, Reason: "source_in: at least one value is required"},
		{RuleID: "miss", Priority: 2, Outcome: OutcomeNotMatched},
		{RuleID: "hit", Priority: 3, Outcome: OutcomeMatched},
	}
	if diff := cmp.Diff(want, d.Steps); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}
	if d.Evaluated != 3 || d.Skipped != 1 {
		t.Fatalf("evaluated=%d skipped=%d", d.Evaluated, d.Skipped)
	}
	if d.Brief() != "selected hit (priority=3, evaluated=3, skipped=1)" {
		t.Fatalf("brief=%q", d.Brief())
	}
}

func TestExplain_FallbackAndNoMatch(t *testing.T) {
	rules := []Rule{{ID: "miss", Active: true, Priority: 1, Conditions: TierIn{Tiers: []string{"urgent"}}}}

	d := Explain(rules, Candidate{Tier: "low"}, nil)
	if d.Applies() || !errors.Is(d.Err(), ErrNoApplicableRule) {
		t.Fatalf("decision=%+v", d)
	}
	if d.Brief() != "no applicable rule (evaluated=1, skipped=0)" {
		t.Fatalf("brief=%q", d.Brief())
	}

	fb := DefaultFallback()
	d = Explain(rules, Candidate{Tier: "low"}, &fb)
	if !d.Fallback || d.Matched || d.Rule.ID != DefaultFallbackID || d.Err() != nil {
		t.Fatalf("decision=%+v", d)
	}
	if d.Brief() != "fallback default (evaluated=1, skipped=0)" {
		t.Fatalf("brief=%q", d.Brief())
	}
}

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{in: "round_robin", want: StrategyRoundRobin},
		{in: "  Skill ", want: StrategySkill},
		{in: "WORKLOAD", want: StrategyWorkload},
		{in: "performance", want: StrategyPerformance},
		{in: "availability", want: StrategyAvailability},
		{in: "", wantErr: true},
		{in: "random", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseStrategy(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("in=%q err=%v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("in=%q got=%q want=%q", tc.in, got, tc.want)
		}
	}
	if len(Strategies()) != 5 {
		t.Fatalf("strategies=%v", Strategies())
	}
}

func TestRuleUnconditional(t *testing.T) {
	if !(Rule{}).Unconditional() {
		t.Fatal("nil conditions should be unconditional")
	}
	if !(Rule{Conditions: Always{}}).Unconditional() {
		t.Fatal("always should be unconditional")
	}
	if (Rule{Conditions: MinValue{Min: 1}}).Unconditional() {
		t.Fatal("min_value should be conditional")
	}
	if !(Rule{Conditions: All{}}).Unconditional() {
		t.Fatal("empty all should be unconditional")
	}
	if !(Rule{Conditions: All{Items: []Predicate{Always{}, All{}}}}).Unconditional() {
		t.Fatal("all of always items should be unconditional")
	}
	if (Rule{Conditions: All{Items: []Predicate{Always{}, MinValue{Min: 1}}}}).Unconditional() {
		t.Fatal("all with a conditional item should be conditional")
	}
	if (Rule{Conditions: Any{}}).Unconditional() {
		t.Fatal("empty any never matches")
	}
}
