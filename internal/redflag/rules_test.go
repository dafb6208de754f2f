// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package redflag

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTooLong(t *testing.T) {
	rule := TooLong(100)

	tests := []struct {
		name     string
		response string
		meta     *ResponseMeta
		want     bool
	}{
		{name: "explicit tokens over", response: "short", meta: &ResponseMeta{TokenCount: 101}, want: true},
		{name: "explicit tokens at limit", response: strings.Repeat("x", 1000), meta: &ResponseMeta{TokenCount: 100}, want: false},
		{name: "char fallback over", response: strings.Repeat("x", 401), want: true},
		{name: "char fallback at limit", response: strings.Repeat("x", 400), want: false},
		{name: "zero token count falls back", response: strings.Repeat("x", 1000), meta: &ResponseMeta{}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rule.Check(tt.response, tt.meta))
		})
	}
	assert.Equal(t, "too-long(100)", rule.Name())
}

func TestEmptyResponse(t *testing.T) {
	rule := EmptyResponse()
	assert.True(t, rule.Check("", nil))
	assert.True(t, rule.Check(" \n\t ", nil))
	assert.False(t, rule.Check(" a ", nil))
}

func TestInvalidJSON(t *testing.T) {
	rule := InvalidJSON()

	for _, valid := range []string{`{"a":1}`, `[1,2]`, `"str"`, `42`, `null`, `true`, ` {"a": [1, {"b": null}]} `} {
		assert.False(t, rule.Check(valid, nil), "expected %q to be accepted", valid)
	}
	for _, invalid := range []string{``, `{`, `{"a":}`, `hello`, `[1,2`} {
		assert.True(t, rule.Check(invalid, nil), "expected %q to be flagged", invalid)
	}
}

func TestPatternRules(t *testing.T) {
	digits := regexp.MustCompile(`^\d+$`)

	must := MustMatch(digits)
	assert.False(t, must.Check("12345", nil))
	assert.True(t, must.Check("12a45", nil))

	mustNot := MustNotMatch(regexp.MustCompile(`(?i)lorem`))
	assert.True(t, mustNot.Check("Lorem ipsum", nil))
	assert.False(t, mustNot.Check("dolor sit", nil))
}

func TestContainsPhrase(t *testing.T) {
	rule := ContainsPhrase("I think", "NOT SURE", "")

	assert.True(t, rule.Check("Well, i think it's 4", nil))
	assert.True(t, rule.Check("I'm not sure about that", nil))
	assert.False(t, rule.Check("The answer is 4", nil))
	assert.False(t, ContainsPhrase().Check("anything", nil))
}

func TestCustom(t *testing.T) {
	rule := Custom("slow", func(_ string, meta *ResponseMeta) bool {
		return meta != nil && meta.Latency > time.Second
	})
	assert.Equal(t, "slow", rule.Name())
	assert.True(t, rule.Check("x", &ResponseMeta{Latency: 2 * time.Second}))
	assert.False(t, rule.Check("x", nil))

	assert.Equal(t, "custom", Custom("", nil).Name())
	assert.False(t, Custom("", nil).Check("x", nil))
}

func TestRefusal(t *testing.T) {
	rule := Refusal()
	assert.True(t, rule.Check("I cannot help with that request.", nil))
	assert.True(t, rule.Check("  Sorry, I can't assist with that.", nil))
	assert.True(t, rule.Check("As an AI, I cannot provide that information.", nil))
	assert.False(t, rule.Check("Here is the information you requested.", nil))
}

func TestTruncated(t *testing.T) {
	rule := Truncated()
	assert.True(t, rule.Check("the list goes on [truncated]", nil))
	assert.True(t, rule.Check("Maximum tokens reached", nil))
	assert.True(t, rule.Check("```go\nfunc main() {", nil))
	assert.False(t, rule.Check("```go\nfunc main() {}\n```", nil))
	assert.False(t, rule.Check("A complete answer.", nil))
}

func TestExpression(t *testing.T) {
	rule, err := Expression("long-or-slow", `Length > 10 || LatencyMs > 500`)
	require.NoError(t, err)

	assert.Equal(t, "long-or-slow", rule.Name())
	assert.True(t, rule.Check("this is longer than ten", nil))
	assert.True(t, rule.Check("short", &ResponseMeta{Latency: time.Second}))
	assert.False(t, rule.Check("short", &ResponseMeta{Latency: time.Millisecond}))

	tokens, err := Expression("", `Tokens >= 3 && Response contains "x"`)
	require.NoError(t, err)
	assert.Equal(t, "expression", tokens.Name())
	assert.True(t, tokens.Check("xyz", &ResponseMeta{TokenCount: 3}))
	assert.False(t, tokens.Check("abc", &ResponseMeta{TokenCount: 3}))

	_, err = Expression("bad", `Length +`)
	assert.Error(t, err)

	_, err = Expression("not-bool", `Length + 1`)
	assert.Error(t, err)
}

func TestGate_ShortCircuits(t *testing.T) {
	var calls []string
	record := func(name string, result bool) Rule {
		return Custom(name, func(string, *ResponseMeta) bool {
			calls = append(calls, name)
			return result
		})
	}

	gate := Gate{record("first", false), nil, record("second", true), record("third", true)}
	rule, flagged := gate.Check("x", nil)

	require.True(t, flagged)
	assert.Equal(t, "second", rule.Name())
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, []string{"first", "second", "third"}, gate.Names())

	rule, flagged = Gate{}.Check("x", nil)
	assert.False(t, flagged)
	assert.Nil(t, rule)
}

func TestFromSpecs(t *testing.T) {
	gate, err := FromSpecs([]Spec{
		{Type: "too-long", MaxTokens: 50},
		{Type: "empty"},
		{Type: "invalid-json"},
		{Type: "must-match", Pattern: `^\{`},
		{Type: "must-not-match", Pattern: `error`},
		{Type: "contains-phrase", Phrases: []string{"as an ai"}},
		{Type: "refusal"},
		{Type: "truncated"},
		{Type: "expression", Name: "huge", Expression: "Length > 100000"},
	})
	require.NoError(t, err)
	require.Len(t, gate, 9)

	_, flagged := gate.Check(`{"ok":true}`, nil)
	assert.False(t, flagged)

	rule, flagged := gate.Check(`{"status":"error"}`, nil)
	require.True(t, flagged)
	assert.Equal(t, "must-not-match(error)", rule.Name())

	badSpecs := []Spec{
		{Type: "too-long"},
		{Type: "must-match"},
		{Type: "must-match", Pattern: "("},
		{Type: "contains-phrase"},
		{Type: "expression", Expression: "1 +"},
		{Type: "lua"},
		{Type: "lua", Script: "return ("},
		{Type: "lua", ScriptFile: "/nonexistent/rule.lua"},
		{Type: "nope"},
	}
	for _, spec := range badSpecs {
		_, err := FromSpecs([]Spec{spec})
		assert.Error(t, err, "spec %+v should be rejected", spec)
	}
}

func TestRules_ConcurrentUse(t *testing.T) {
	expressionRule, err := Expression("", `Length > 3`)
	require.NoError(t, err)
	gate := Gate{TooLong(10), EmptyResponse(), InvalidJSON(), Refusal(), expressionRule}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, flagged := gate.Check(`{"a":1}`, nil)
				assert.True(t, flagged)
			}
		}()
	}
	wg.Wait()
}

func TestLua(t *testing.T) {
	rule, err := Lua("shouty", `return string.upper(response) == response and #response > 3`, 0)
	require.NoError(t, err)
	assert.Equal(t, "shouty", rule.Name())
	assert.True(t, rule.Check("STOP THAT", nil))
	assert.False(t, rule.Check("fine", nil))
	assert.False(t, rule.Check("OK", nil))

	meta, err := Lua("", `if tokens > 100 or latency_ms > 2000 then return true end`, 0)
	require.NoError(t, err)
	assert.Equal(t, "lua", meta.Name())
	assert.False(t, meta.Check("x", nil))
	assert.True(t, meta.Check("x", &ResponseMeta{TokenCount: 101}))
	assert.True(t, meta.Check("x", &ResponseMeta{Latency: 3 * time.Second}))

	broken, err := Lua("broken", `error("boom")`, 0)
	require.NoError(t, err)
	assert.False(t, broken.Check("x", nil), "runtime failures never flag")

	sandboxed, err := Lua("escape", `return os ~= nil or io ~= nil or require ~= nil`, 0)
	require.NoError(t, err)
	assert.False(t, sandboxed.Check("x", nil))
}

func TestLua_RunawayScriptTimesOut(t *testing.T) {
	rule := mustLua(t, "spin", `if response == "spin" then while true do end end return response == "stop"`, 50*time.Millisecond)

	done := make(chan bool, 1)
	go func() { done <- rule.Check("spin", nil) }()
	select {
	case flagged := <-done:
		assert.False(t, flagged, "a timed-out script never flags")
	case <-time.After(5 * time.Second):
		t.Fatal("lua rule was not interrupted by its timeout")
	}

	// The rule stays usable once the interrupted state has been discarded.
	assert.True(t, rule.Check("stop", nil))
	assert.False(t, rule.Check("go", nil))

	assert.Equal(t, DefaultLuaTimeout, mustLua(t, "default", `return false`, 0).timeout)
}

func TestLua_TimeoutFromSpec(t *testing.T) {
	gate, err := FromSpecs([]Spec{{Type: TypeLua, Name: "spin", Script: `while true do end`, Timeout: 20 * time.Millisecond}})
	require.NoError(t, err)
	require.Len(t, gate, 1)
	assert.Equal(t, 20*time.Millisecond, gate[0].(*luaRule).timeout)

	start := time.Now()
	_, flagged := gate.Check("x", nil)
	assert.False(t, flagged)
	assert.Less(t, time.Since(start), 5*time.Second)

	_, err = FromSpecs([]Spec{{Type: TypeLua, Script: `return true`, Timeout: -time.Second}})
	assert.Error(t, err)
}

func mustLua(t *testing.T, name, source string, timeout time.Duration) *luaRule {
	t.Helper()
	rule, err := Lua(name, source, timeout)
	require.NoError(t, err)
	return rule.(*luaRule)
}

func TestLua_FromScriptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.lua")
	require.NoError(t, os.WriteFile(path, []byte(`return string.find(response, "lorem", 1, true) ~= nil`), 0o600))

	gate, err := FromSpecs([]Spec{{Type: " LUA ", Name: "placeholder", ScriptFile: path}})
	require.NoError(t, err)
	rule, flagged := gate.Check("lorem ipsum", nil)
	require.True(t, flagged)
	assert.Equal(t, "placeholder", rule.Name())
	_, flagged = gate.Check("real text", nil)
	assert.False(t, flagged)
}

func TestLua_ConcurrentUse(t *testing.T) {
	rule, err := Lua("", `return #response % 2 == 0`, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				text := strings.Repeat("a", i+j)
				assert.Equal(t, (i+j)%2 == 0, rule.Check(text, nil))
			}
		}(i)
	}
	wg.Wait()
}
