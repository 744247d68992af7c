// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fabric

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchKind selects how a Pattern's text is compared against a Probe
// field.
type MatchKind uint8

const (
	// MatchLiteral compares pattern text verbatim (case-insensitive
	// unless CaseSensitive is set).
	MatchLiteral MatchKind = iota
	// MatchRegex compiles pattern text as a Go regexp (RE2 subset).
	MatchRegex
)

// Target selects which Probe field a Pattern evaluates against.
type Target uint8

const (
	TargetSymbol Target = iota
	TargetMessage
)

// Pattern is one entry in a MarkingPolicy's ordered pattern list (spec
// §4.5). Module, if non-empty, additionally restricts the match to
// probes from that module.
type Pattern struct {
	Target        Target
	Match         MatchKind
	CaseSensitive bool
	Text          string
	Module        string
}

type compiledPattern struct {
	Pattern
	re      *regexp.Regexp
	literal string // lower-cased when !CaseSensitive, for literal matches
}

// MarkingPolicy evaluates probes against an ordered, first-match-wins
// pattern list (spec §4.5). The zero value is not usable; build one with
// NewMarkingPolicy.
type MarkingPolicy struct {
	patterns []compiledPattern
}

// NewMarkingPolicy compiles patterns in declared order. Regex patterns
// are compiled eagerly with the standard library regexp package, whose
// RE2 engine already restricts to the anchors/character-classes/
// alternation/bounded-quantifier subset spec.md calls for — no
// backreferences, no catastrophic backtracking. A pattern that fails to
// compile is rejected at construction, never at match time.
func NewMarkingPolicy(patterns []Pattern) (*MarkingPolicy, error) {
	compiled := make([]compiledPattern, len(patterns))
	for i, p := range patterns {
		cp := compiledPattern{Pattern: p}
		switch p.Match {
		case MatchRegex:
			re, err := regexp.Compile(p.Text)
			if err != nil {
				return nil, &FabricError{Kind: KindInvalidPattern, err: fmt.Errorf("%w: pattern %q: %v", causeInvalidPattern, p.Text, err)}
			}
			cp.re = re
		default:
			if p.CaseSensitive {
				cp.literal = p.Text
			} else {
				cp.literal = strings.ToLower(p.Text)
			}
		}
		compiled[i] = cp
	}
	return &MarkingPolicy{patterns: compiled}, nil
}

// Evaluate returns true on the first pattern that matches probe, in
// declared order (spec §4.5). An empty policy never matches.
func (mp *MarkingPolicy) Evaluate(probe Probe) bool {
	for _, p := range mp.patterns {
		if p.Module != "" && p.Module != probe.Module {
			continue
		}
		field := probe.Symbol
		if p.Target == TargetMessage {
			field = probe.Message
		}
		if p.matches(field) {
			return true
		}
	}
	return false
}

func (p *compiledPattern) matches(field string) bool {
	if p.Match == MatchRegex {
		return p.re.MatchString(field)
	}
	if p.CaseSensitive {
		return field == p.literal
	}
	return strings.ToLower(field) == p.literal
}

