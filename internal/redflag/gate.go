// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package redflag

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// Gate is an ordered rule list. Rules are evaluated in order and evaluation stops
// at the first match.
type Gate []Rule

// Check returns the first rule that flags response, or nil and false.
func (g Gate) Check(response string, meta *ResponseMeta) (Rule, bool) {
	for _, rule := range g {
		if rule == nil {
			continue
		}
		if rule.Check(response, meta) {
			return rule, true
		}
	}
	return nil, false
}

// Names lists the rule names in evaluation order.
func (g Gate) Names() []string {
	names := make([]string, 0, len(g))
	for _, rule := range g {
		if rule != nil {
			names = append(names, rule.Name())
		}
	}
	return names
}

// Rule types accepted in Spec.Type.
const (
	TypeTooLong        = "too-long"
	TypeEmpty          = "empty"
	TypeInvalidJSON    = "invalid-json"
	TypeMustMatch      = "must-match"
	TypeMustNotMatch   = "must-not-match"
	TypeContainsPhrase = "contains-phrase"
	TypeRefusal        = "refusal"
	TypeTruncated      = "truncated"
	TypeExpression     = "expression"
	TypeLua            = "lua"
)

// Spec is the declarative form of a rule as it appears in the configuration file.
type Spec struct {
	// Type selects the built-in rule.
	Type string `yaml:"type" json:"type"`
	// Name overrides the diagnostic name for expression and lua rules.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// MaxTokens is the budget for too-long rules.
	MaxTokens int `yaml:"max-tokens,omitempty" json:"max-tokens,omitempty"`
	// Pattern is the regular expression for must-match and must-not-match rules.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	// Phrases is the phrase set for contains-phrase rules.
	Phrases []string `yaml:"phrases,omitempty" json:"phrases,omitempty"`
	// Expression is the expr-lang condition for expression rules.
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
	// Script is the Lua chunk for lua rules; ScriptFile loads it from disk instead.
	Script     string `yaml:"script,omitempty" json:"script,omitempty"`
	ScriptFile string `yaml:"script-file,omitempty" json:"script-file,omitempty"`
	// Timeout bounds one lua evaluation. Zero selects DefaultLuaTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Build turns a Spec into a Rule.
func (s Spec) Build() (Rule, error) {
	kind := strings.ToLower(strings.TrimSpace(s.Type))
	switch kind {
	case TypeTooLong:
		if s.MaxTokens <= 0 {
			return nil, fmt.Errorf("redflag: %s requires max-tokens > 0", TypeTooLong)
		}
		return TooLong(s.MaxTokens), nil
	case TypeEmpty, "empty-response":
		return EmptyResponse(), nil
	case TypeInvalidJSON:
		return InvalidJSON(), nil
	case TypeMustMatch, TypeMustNotMatch:
		if s.Pattern == "" {
			return nil, fmt.Errorf("redflag: %s requires a pattern", kind)
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redflag: compile pattern %q: %w", s.Pattern, err)
		}
		if kind == TypeMustMatch {
			return MustMatch(re), nil
		}
		return MustNotMatch(re), nil
	case TypeContainsPhrase:
		if len(s.Phrases) == 0 {
			return nil, fmt.Errorf("redflag: %s requires at least one phrase", TypeContainsPhrase)
		}
		return ContainsPhrase(s.Phrases...), nil
	case TypeRefusal:
		return Refusal(), nil
	case TypeTruncated:
		return Truncated(), nil
	case TypeExpression:
		return Expression(s.Name, s.Expression)
	case TypeLua:
		script := s.Script
		if script == "" && s.ScriptFile != "" {
			data, err := os.ReadFile(s.ScriptFile)
			if err != nil {
				return nil, fmt.Errorf("redflag: read lua script: %w", err)
			}
			script = string(data)
		}
		if s.Timeout < 0 {
			return nil, fmt.Errorf("redflag: %s timeout must not be negative", TypeLua)
		}
		return Lua(s.Name, script, s.Timeout)
	default:
		return nil, fmt.Errorf("redflag: unknown rule type %q", s.Type)
	}
}

// FromSpecs builds a Gate from declarative specs, preserving their order.
func FromSpecs(specs []Spec) (Gate, error) {
	gate := make(Gate, 0, len(specs))
	for i, spec := range specs {
		rule, err := spec.Build()
		if err != nil {
			return nil, fmt.Errorf("red-flags[%d]: %w", i, err)
		}
		gate = append(gate, rule)
	}
	return gate, nil
}
