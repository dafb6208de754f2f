// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package redflag

import (
	"regexp"
	"strings"
)

var (
	refusalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^I (?:cannot|can't|am unable to|won't|will not)\b`),
		regexp.MustCompile(`(?i)^(?:Sorry|I'm sorry|I apologize),? (?:but )?I (?:cannot|can't)`),
		regexp.MustCompile(`(?i)^As an AI,? I (?:cannot|can't|am unable to)`),
		regexp.MustCompile(`(?i)^I'm not able to`),
	}

	truncationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\[(?:truncated|cut off|continued)\]`),
		regexp.MustCompile(`(?i)(?:output|response) (?:truncated|limit)`),
		regexp.MustCompile(`(?i)(?:maximum|max) (?:length|tokens?) (?:reached|exceeded)`),
	}

	codeFence = regexp.MustCompile("```")
)

type refusal struct{}

// Refusal flags responses in which the model declines to answer.
func Refusal() Rule { return refusal{} }

func (refusal) Name() string { return "refusal" }

func (refusal) Check(response string, _ *ResponseMeta) bool {
	trimmed := strings.TrimSpace(response)
	for _, p := range refusalPatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}
	return false
}

type truncated struct{}

// Truncated flags responses that carry an explicit truncation marker or leave a
// code fence open.
func Truncated() Rule { return truncated{} }

func (truncated) Name() string { return "truncated" }

func (truncated) Check(response string, _ *ResponseMeta) bool {
	for _, p := range truncationPatterns {
		if p.MatchString(response) {
			return true
		}
	}
	return len(codeFence.FindAllStringIndex(response, -1))%2 != 0
}
