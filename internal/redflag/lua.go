// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package redflag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// DefaultLuaTimeout bounds a single lua rule evaluation when the rule sets none.
const DefaultLuaTimeout = time.Second

// luaRule runs a sandboxed Lua chunk per response. The chunk sees the globals
// response, tokens and latency_ms and flags the sample by returning true.
type luaRule struct {
	name    string
	source  string
	proto   *lua.FunctionProto
	timeout time.Duration
	pool    sync.Pool
}

// Lua compiles source into a Rule. States are pooled; each one only has the
// base, table, string and math libraries loaded. Each evaluation is cancelled
// after timeout, or DefaultLuaTimeout when timeout is not positive.
func Lua(name, source string, timeout time.Duration) (Rule, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("redflag: lua rule requires a script")
	}
	chunk, err := parse.Parse(strings.NewReader(source), "<red-flag>")
	if err != nil {
		return nil, fmt.Errorf("redflag: parse lua script: %w", err)
	}
	proto, err := lua.Compile(chunk, "<red-flag>")
	if err != nil {
		return nil, fmt.Errorf("redflag: compile lua script: %w", err)
	}
	if name == "" {
		name = "lua"
	}
	if timeout <= 0 {
		timeout = DefaultLuaTimeout
	}
	r := &luaRule{name: name, source: source, proto: proto, timeout: timeout}
	r.pool.New = func() interface{} { return newSandbox() }
	return r, nil
}

func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	return L
}

func (r *luaRule) Name() string { return r.name }

// Check never flags when the script fails or runs out of time, matching
// expression rules.
func (r *luaRule) Check(response string, meta *ResponseMeta) bool {
	L := r.pool.Get().(*lua.LState)
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	L.SetContext(ctx)

	var tokens, latencyMs int64
	if meta != nil {
		tokens = int64(meta.TokenCount)
		latencyMs = meta.Latency.Milliseconds()
	}
	L.SetGlobal("response", lua.LString(response))
	L.SetGlobal("tokens", lua.LNumber(tokens))
	L.SetGlobal("latency_ms", lua.LNumber(latencyMs))

	L.Push(L.NewFunctionFromProto(r.proto))
	err := L.PCall(0, 1, nil)
	flagged := err == nil && lua.LVAsBool(L.Get(-1))
	L.RemoveContext()

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// An interrupted state may hold a half-unwound stack; drop it.
		L.Close()
		log.Warnf("red flag %s: lua script exceeded %s", r.name, r.timeout)
		return false
	}
	L.SetTop(0)
	r.pool.Put(L)
	if err != nil {
		log.Warnf("red flag %s: lua script failed: %v", r.name, err)
	}
	return flagged
}
