// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package redflag

import (
	"fmt"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"
)

type expression struct {
	name    string
	source  string
	program *vm.Program
}

// expressionEnv is the variable set visible to expression rules.
func expressionEnv(response string, meta *ResponseMeta) map[string]interface{} {
	env := map[string]interface{}{
		"Response":  response,
		"Length":    utf8.RuneCountInString(response),
		"Tokens":    0,
		"LatencyMs": int64(0),
	}
	if meta != nil {
		env["Tokens"] = meta.TokenCount
		env["LatencyMs"] = meta.Latency.Milliseconds()
	}
	return env
}

// Expression compiles an expr-lang boolean condition into a Rule. The condition
// sees Response, Length, Tokens and LatencyMs, for example
// `Length > 2000 || Response contains "TODO"`.
func Expression(name, source string) (Rule, error) {
	program, err := expr.Compile(source, expr.Env(expressionEnv("", nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("redflag: compile expression %q: %w", source, err)
	}
	if name == "" {
		name = "expression"
	}
	return &expression{name: name, source: source, program: program}, nil
}

func (r *expression) Name() string { return r.name }

// Check never flags when evaluation fails; a broken rule must not silence every sample.
func (r *expression) Check(response string, meta *ResponseMeta) bool {
	out, err := expr.Run(r.program, expressionEnv(response, meta))
	if err != nil {
		log.Warnf("red flag %s: evaluate %q: %v", r.name, r.source, err)
		return false
	}
	flagged, ok := out.(bool)
	return ok && flagged
}
