// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import "testing"

func TestMarkingPolicyLiteralCaseInsensitiveByDefault(t *testing.T) {
	mp, err := NewMarkingPolicy([]Pattern{
		{Target: TargetSymbol, Match: MatchLiteral, Text: "ParseOrder"},
	})
	if err != nil {
		t.Fatalf("NewMarkingPolicy: %v", err)
	}
	if !mp.Evaluate(Probe{Symbol: "parseorder"}) {
		t.Errorf("Evaluate(parseorder) = false, want true (case-insensitive default)")
	}
	if mp.Evaluate(Probe{Symbol: "other"}) {
		t.Errorf("Evaluate(other) = true, want false")
	}
}

func TestMarkingPolicyLiteralCaseSensitive(t *testing.T) {
	mp, err := NewMarkingPolicy([]Pattern{
		{Target: TargetSymbol, Match: MatchLiteral, Text: "ParseOrder", CaseSensitive: true},
	})
	if err != nil {
		t.Fatalf("NewMarkingPolicy: %v", err)
	}
	if mp.Evaluate(Probe{Symbol: "parseorder"}) {
		t.Errorf("Evaluate(parseorder) = true, want false (case-sensitive)")
	}
	if !mp.Evaluate(Probe{Symbol: "ParseOrder"}) {
		t.Errorf("Evaluate(ParseOrder) = false, want true")
	}
}

func TestMarkingPolicyRegex(t *testing.T) {
	mp, err := NewMarkingPolicy([]Pattern{
		{Target: TargetSymbol, Match: MatchRegex, Text: "^parse.*"},
	})
	if err != nil {
		t.Fatalf("NewMarkingPolicy: %v", err)
	}
	if !mp.Evaluate(Probe{Symbol: "parseOrder"}) {
		t.Errorf("Evaluate(parseOrder) = false, want true")
	}
	if mp.Evaluate(Probe{Symbol: "formatOrder"}) {
		t.Errorf("Evaluate(formatOrder) = true, want false")
	}
}

func TestMarkingPolicyInvalidRegexRejected(t *testing.T) {
	_, err := NewMarkingPolicy([]Pattern{
		{Target: TargetSymbol, Match: MatchRegex, Text: "("},
	})
	if !IsFabricErrorKind(err, KindInvalidPattern) {
		t.Fatalf("NewMarkingPolicy(bad regex) = %v, want KindInvalidPattern", err)
	}
}

func TestMarkingPolicyFirstMatchWinsAndModuleScoping(t *testing.T) {
	mp, err := NewMarkingPolicy([]Pattern{
		{Target: TargetSymbol, Match: MatchLiteral, Text: "run", Module: "billing"},
		{Target: TargetSymbol, Match: MatchLiteral, Text: "run"},
	})
	if err != nil {
		t.Fatalf("NewMarkingPolicy: %v", err)
	}
	if mp.Evaluate(Probe{Symbol: "run", Module: "orders"}) == false {
		t.Errorf("Evaluate(run, orders) = false, want true (falls through to unscoped rule)")
	}
	if !mp.Evaluate(Probe{Symbol: "run", Module: "billing"}) {
		t.Errorf("Evaluate(run, billing) = false, want true")
	}
}

func TestMarkingPolicyEmptyNeverMatches(t *testing.T) {
	mp, err := NewMarkingPolicy(nil)
	if err != nil {
		t.Fatalf("NewMarkingPolicy(nil): %v", err)
	}
	if mp.Evaluate(Probe{Symbol: "anything"}) {
		t.Errorf("Evaluate() on empty policy = true, want false")
	}
}
