// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package redflag provides the quality gate applied to every oracle sample before it
// may vote. A rule inspects the response text (and optional metadata) and reports
// whether the sample must be discarded. Rules are stateless and safe to share across
// concurrent voting runs.
package redflag

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// CharsPerToken is the fallback ratio used when a sample carries no token count.
const CharsPerToken = 4

// ResponseMeta carries optional per-sample metadata. It is transient and discarded
// once the sample has been processed.
type ResponseMeta struct {
	// TokenCount is the number of output tokens; zero means unknown.
	TokenCount int
	// RawText is the raw text the response was produced from.
	RawText string
	// Latency is the wall-clock duration of the oracle call.
	Latency time.Duration
}

// Rule is a named predicate over a response. Check returns true when the sample
// must be discarded.
type Rule interface {
	Name() string
	Check(response string, meta *ResponseMeta) bool
}

// Func adapts an arbitrary predicate into a Rule.
type Func func(response string, meta *ResponseMeta) bool

// tooLong flags responses over a token budget.
type tooLong struct {
	maxTokens int
}

// TooLong flags responses whose token count exceeds maxTokens. Without a token
// count it falls back to len(characters) > maxTokens*CharsPerToken.
func TooLong(maxTokens int) Rule {
	return tooLong{maxTokens: maxTokens}
}

func (r tooLong) Name() string { return fmt.Sprintf("too-long(%d)", r.maxTokens) }

func (r tooLong) Check(response string, meta *ResponseMeta) bool {
	if meta != nil && meta.TokenCount > 0 {
		return meta.TokenCount > r.maxTokens
	}
	return utf8.RuneCountInString(response) > r.maxTokens*CharsPerToken
}

type emptyResponse struct{}

// EmptyResponse flags responses that are empty after trimming whitespace.
func EmptyResponse() Rule { return emptyResponse{} }

func (emptyResponse) Name() string { return "empty-response" }

func (emptyResponse) Check(response string, _ *ResponseMeta) bool {
	return len(strings.TrimSpace(response)) == 0
}

type invalidJSON struct{}

// InvalidJSON flags responses that do not parse as a JSON value. Any value is
// accepted: object, array, string, number, boolean or null.
func InvalidJSON() Rule { return invalidJSON{} }

func (invalidJSON) Name() string { return "invalid-json" }

func (invalidJSON) Check(response string, _ *ResponseMeta) bool {
	return !json.Valid([]byte(response))
}

type patternRule struct {
	name    string
	pattern *regexp.Regexp
	negate  bool
}

// MustMatch flags responses that do not match pattern.
func MustMatch(pattern *regexp.Regexp) Rule {
	return patternRule{name: "must-match(" + pattern.String() + ")", pattern: pattern, negate: true}
}

// MustNotMatch flags responses that match pattern.
func MustNotMatch(pattern *regexp.Regexp) Rule {
	return patternRule{name: "must-not-match(" + pattern.String() + ")", pattern: pattern}
}

func (r patternRule) Name() string { return r.name }

func (r patternRule) Check(response string, _ *ResponseMeta) bool {
	matched := r.pattern.MatchString(response)
	if r.negate {
		return !matched
	}
	return matched
}

type containsPhrase struct {
	phrases []string
}

// ContainsPhrase flags responses containing any of phrases. Matching is a
// case-insensitive substring test.
func ContainsPhrase(phrases ...string) Rule {
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p == "" {
			continue
		}
		lowered = append(lowered, strings.ToLower(p))
	}
	return containsPhrase{phrases: lowered}
}

func (containsPhrase) Name() string { return "contains-phrase" }

func (r containsPhrase) Check(response string, _ *ResponseMeta) bool {
	lower := strings.ToLower(response)
	for _, p := range r.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

type custom struct {
	name string
	fn   Func
}

// Custom wraps a caller-supplied predicate. name is used in diagnostics and metrics.
func Custom(name string, fn Func) Rule {
	if name == "" {
		name = "custom"
	}
	return custom{name: name, fn: fn}
}

func (r custom) Name() string { return r.name }

func (r custom) Check(response string, meta *ResponseMeta) bool {
	if r.fn == nil {
		return false
	}
	return r.fn(response, meta)
}
