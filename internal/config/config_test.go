// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/switchAIVote/internal/canonical"
	"github.com/traylinx/switchAIVote/internal/provider"
	"github.com/traylinx/switchAIVote/internal/vote"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvBaseURL, "")
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.False(t, cfg.Debug)
	assert.Equal(t, vote.DefaultConfig(), cfg.Vote)
	assert.Equal(t, provider.DefaultBaseURL, cfg.Provider.BaseURL)
	assert.Equal(t, provider.DefaultModel, cfg.Provider.Model)
	assert.Equal(t, CanonicalExact, cfg.Canonical.Mode)
	assert.Equal(t, "tiktoken", cfg.Tokens.Method)
	assert.False(t, cfg.Journal.Enabled)
	assert.Empty(t, cfg.RedFlags)
	assert.Equal(t, canonical.Exact(), cfg.Serializer())
}

func TestLoadConfig_Full(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
debug: true
provider:
  base-url: "http://localhost:11434/v1/"
  model: " llama3 "
  temperature: 0.8
  max-tokens: 256
  timeout: 30s
  headers:
    X-Team: " research "
    X-Empty: ""
rate-limit:
  requests-per-second: 2
  max-retries: 5
  initial-backoff: 250ms
vote:
  k: 5
  max-samples: 40
  strategy: " First-To-K "
  parallel: false
canonical:
  mode: semantic
  ignore-case: false
  collapse-whitespace: true
  json-aware: true
red-flags:
  - type: empty
  - type: " TOO-LONG "
    max-tokens: 300
  - type: ""
  - type: expression
    name: slow
    expression: "LatencyMs > 30000"
tokens:
  method: simple
cost:
  cost-per-million-input: 0.15
  cost-per-million-output: 0.6
journal:
  enabled: true
  path: /tmp/switchaivote/journal.jsonl
  samples: true
metrics-file: /tmp/switchaivote.prom
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Provider.BaseURL)
	assert.Equal(t, "llama3", cfg.Provider.Model)
	assert.Equal(t, 0.8, cfg.Provider.Temperature)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, map[string]string{"X-Team": "research"}, cfg.Provider.Headers)

	assert.Equal(t, 2.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 5, cfg.RateLimit.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimit.InitialBackoff)
	assert.Equal(t, 10, cfg.RateLimit.MaxConcurrent, "unset keys keep defaults")

	assert.Equal(t, 5, cfg.Vote.K)
	assert.Equal(t, 40, cfg.Vote.MaxSamples)
	assert.Equal(t, vote.FirstToK, cfg.Vote.Strategy)
	assert.False(t, cfg.Vote.Parallel)
	assert.True(t, cfg.Vote.EarlyTermination)

	assert.Equal(t, CanonicalSemantic, cfg.Canonical.Mode)
	assert.False(t, cfg.Canonical.IgnoreCase)
	assert.IsType(t, &canonical.Semantic{}, cfg.Serializer())

	require.Len(t, cfg.RedFlags, 3)
	assert.Equal(t, "too-long", cfg.RedFlags[1].Type)
	gate, err := cfg.Gate()
	require.NoError(t, err)
	assert.Equal(t, []string{"empty-response", "too-long(300)", "slow"}, gate.Names())

	assert.Equal(t, "simple", cfg.Tokens.Method)
	assert.Equal(t, 0.15, cfg.Cost.CostPerMillionInput)
	assert.Equal(t, 500, cfg.Cost.AvgInputTokens)
	assert.True(t, cfg.Journal.Samples)
	assert.Equal(t, "/tmp/switchaivote.prom", cfg.MetricsFile)
}

func TestLoadConfig_Invalid(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"bad yaml":       "vote: [",
		"bad strategy":   "vote:\n  strategy: majority\n",
		"negative k":     "vote:\n  k: -2\n",
		"bad canonical":  "canonical:\n  mode: fuzzy\n",
		"bad tokens":     "tokens:\n  method: bpe\n",
		"bad temp":       "provider:\n  temperature: 3\n",
		"bad red flag":   "red-flags:\n  - type: must-match\n    pattern: \"(\"\n",
		"unknown flag":   "red-flags:\n  - type: sparkle\n",
		"journal path":   "journal:\n  enabled: true\n  path: \"\"\n",
		"negative price": "cost:\n  cost-per-million-input: -1\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigOptional(t *testing.T) {
	clearEnv(t)
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	_, err := LoadConfig(missing)
	assert.Error(t, err)

	cfg, err := LoadConfigOptional(missing, true)
	require.NoError(t, err)
	assert.Equal(t, vote.DefaultK, cfg.Vote.K)

	cfg, err = LoadConfigOptional("", true)
	require.NoError(t, err)
	assert.Equal(t, provider.DefaultModel, cfg.Provider.Model)
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvOpenAIAPIKey, "sk-openai")
	cfg, err := LoadConfigOptional("", true)
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.Provider.APIKey)

	t.Setenv(EnvAPIKey, "sk-vote")
	t.Setenv(EnvBaseURL, "http://127.0.0.1:8080/v1")
	cfg, err = LoadConfig(writeConfig(t, "provider:\n  api-key: sk-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-vote", cfg.Provider.APIKey)
	assert.Equal(t, "http://127.0.0.1:8080/v1", cfg.Provider.BaseURL)
}

func TestApplyEnv_FileKeyBeatsOpenAIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvOpenAIAPIKey, "sk-openai")
	cfg, err := LoadConfig(writeConfig(t, "provider:\n  api-key: sk-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.Provider.APIKey)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SWITCHAI_VOTE_API_KEY=sk-dotenv\n"), 0o600))

	// godotenv never overrides variables that are already set, even to "".
	require.NoError(t, os.Unsetenv(EnvAPIKey))
	require.NoError(t, LoadDotEnv(envFile, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "sk-dotenv", os.Getenv(EnvAPIKey))
}

func TestNormalizeHeaders(t *testing.T) {
	assert.Nil(t, NormalizeHeaders(nil))
	assert.Nil(t, NormalizeHeaders(map[string]string{" ": "x", "a": " "}))
	assert.Equal(t, map[string]string{"A": "b"}, NormalizeHeaders(map[string]string{" A ": " b "}))
}

func TestLoadConfig_Example(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)

	gate, err := cfg.Gate()
	require.NoError(t, err)
	assert.Equal(t, []string{"empty-response", "refusal", "truncated", "too-long(400)", "slow", "hedging"}, gate.Names())

	rule, flagged := gate.Check("Well, it depends on the context.", nil)
	require.True(t, flagged)
	assert.Equal(t, "hedging", rule.Name())
	assert.Equal(t, 200*time.Millisecond, cfg.RedFlags[len(cfg.RedFlags)-1].Timeout)
	assert.Equal(t, CanonicalSemantic, cfg.Canonical.Mode)
}
