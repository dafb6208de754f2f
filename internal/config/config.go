// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the switchaivote YAML configuration file. Defaults are
// set before unmarshalling so absent keys keep them; Sanitize passes then clean
// up what the file supplied and Validate rejects what cannot run.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/traylinx/switchAIVote/internal/canonical"
	"github.com/traylinx/switchAIVote/internal/journal"
	"github.com/traylinx/switchAIVote/internal/provider"
	"github.com/traylinx/switchAIVote/internal/ratelimit"
	"github.com/traylinx/switchAIVote/internal/redflag"
	"github.com/traylinx/switchAIVote/internal/tokens"
	"github.com/traylinx/switchAIVote/internal/vote"
)

// Environment variables consulted for the provider credentials, in order.
const (
	EnvAPIKey       = "SWITCHAI_VOTE_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvBaseURL      = "SWITCHAI_VOTE_BASE_URL"
)

// Canonicalization modes.
const (
	CanonicalExact    = "exact"
	CanonicalSemantic = "semantic"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile writes logs to a rotating file under LogsDir instead of stdout.
	LoggingToFile bool   `yaml:"logging-to-file" json:"logging-to-file"`
	LogsDir       string `yaml:"logs-dir" json:"logs-dir"`

	Provider  provider.Config  `yaml:"provider" json:"provider"`
	RateLimit ratelimit.Config `yaml:"rate-limit" json:"rate-limit"`
	Vote      vote.Config      `yaml:"vote" json:"vote"`
	Canonical CanonicalConfig  `yaml:"canonical" json:"canonical"`
	RedFlags  []redflag.Spec   `yaml:"red-flags" json:"red-flags"`
	Tokens    TokensConfig     `yaml:"tokens" json:"tokens"`
	Cost      CostConfig       `yaml:"cost" json:"cost"`
	Journal   journal.Config   `yaml:"journal" json:"journal"`

	// MetricsFile receives a Prometheus text exposition after every run when set.
	MetricsFile string `yaml:"metrics-file" json:"metrics-file"`
}

// CanonicalConfig selects how responses are turned into vote keys.
type CanonicalConfig struct {
	Mode                      string `yaml:"mode" json:"mode" validate:"oneof=exact semantic"`
	canonical.SemanticOptions `yaml:",inline"`
}

// TokensConfig selects the token counting method.
type TokensConfig struct {
	Method string `yaml:"method" json:"method" validate:"oneof=simple tiktoken"`
}

// CostConfig holds pricing assumptions for estimates.
type CostConfig struct {
	CostPerMillionInput  float64       `yaml:"cost-per-million-input" json:"cost-per-million-input" validate:"gte=0"`
	CostPerMillionOutput float64       `yaml:"cost-per-million-output" json:"cost-per-million-output" validate:"gte=0"`
	AvgInputTokens       int           `yaml:"avg-input-tokens" json:"avg-input-tokens" validate:"gte=0"`
	AvgOutputTokens      int           `yaml:"avg-output-tokens" json:"avg-output-tokens" validate:"gte=0"`
	CallLatency          time.Duration `yaml:"call-latency" json:"call-latency" validate:"gte=0"`
}

var validate = validator.New()

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (cfg *Config) setDefaults() {
	cfg.LogsDir = "logs"
	cfg.Provider = provider.Config{
		BaseURL:     provider.DefaultBaseURL,
		Model:       provider.DefaultModel,
		Temperature: 1.0,
		Timeout:     provider.DefaultTimeout,
	}
	cfg.RateLimit = ratelimit.DefaultConfig()
	cfg.Vote = vote.DefaultConfig()
	cfg.Canonical = CanonicalConfig{Mode: CanonicalExact, SemanticOptions: canonical.DefaultSemanticOptions()}
	cfg.Tokens.Method = tokens.MethodTiktoken
	cfg.Cost = CostConfig{
		AvgInputTokens:  500,
		AvgOutputTokens: 200,
		CallLatency:     time.Second,
	}
	cfg.Journal = journal.Config{Path: "logs/journal.jsonl"}
}

// LoadConfig reads configFile; it must exist.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile. When optional is true a missing
// or empty file yields the defaults. Environment overrides are applied last.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := Default()

	var data []byte
	if configFile != "" {
		var err error
		data, err = os.ReadFile(configFile)
		if err != nil {
			if !optional || !(os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			data = nil
		}
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyEnv()
	cfg.SanitizeProvider()
	cfg.SanitizeVote()
	cfg.SanitizeCanonical()
	cfg.SanitizeRedFlags()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides provider credentials from the environment.
func (cfg *Config) ApplyEnv() {
	if key := strings.TrimSpace(os.Getenv(EnvAPIKey)); key != "" {
		cfg.Provider.APIKey = key
	} else if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = strings.TrimSpace(os.Getenv(EnvOpenAIAPIKey))
	}
	if base := strings.TrimSpace(os.Getenv(EnvBaseURL)); base != "" {
		cfg.Provider.BaseURL = base
	}
}

// SanitizeProvider trims the endpoint and drops empty headers.
func (cfg *Config) SanitizeProvider() {
	cfg.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Provider.BaseURL), "/")
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = provider.DefaultBaseURL
	}
	cfg.Provider.Model = strings.TrimSpace(cfg.Provider.Model)
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = provider.DefaultModel
	}
	cfg.Provider.APIKey = strings.TrimSpace(cfg.Provider.APIKey)
	cfg.Provider.Headers = NormalizeHeaders(cfg.Provider.Headers)
}

// SanitizeVote fills zero vote fields and normalizes the strategy name.
func (cfg *Config) SanitizeVote() {
	cfg.Vote.Strategy = vote.Strategy(strings.ToLower(strings.TrimSpace(string(cfg.Vote.Strategy))))
	cfg.Vote = cfg.Vote.WithDefaults()
}

// SanitizeCanonical normalizes the canonicalization mode.
func (cfg *Config) SanitizeCanonical() {
	cfg.Canonical.Mode = strings.ToLower(strings.TrimSpace(cfg.Canonical.Mode))
	if cfg.Canonical.Mode == "" {
		cfg.Canonical.Mode = CanonicalExact
	}
	cfg.Tokens.Method = strings.ToLower(strings.TrimSpace(cfg.Tokens.Method))
	if cfg.Tokens.Method == "" {
		cfg.Tokens.Method = tokens.MethodTiktoken
	}
}

// SanitizeRedFlags normalizes rule types and drops entries without one.
func (cfg *Config) SanitizeRedFlags() {
	if len(cfg.RedFlags) == 0 {
		return
	}
	out := cfg.RedFlags[:0]
	for _, spec := range cfg.RedFlags {
		spec.Type = strings.ToLower(strings.TrimSpace(spec.Type))
		if spec.Type == "" {
			continue
		}
		out = append(out, spec)
	}
	cfg.RedFlags = out
}

// Validate checks every section.
func (cfg *Config) Validate() error {
	if err := cfg.Vote.Validate(); err != nil {
		return fmt.Errorf("vote: %w", err)
	}
	sections := []struct {
		name string
		v    any
	}{
		{"provider", cfg.Provider},
		{"rate-limit", cfg.RateLimit},
		{"canonical", cfg.Canonical},
		{"tokens", cfg.Tokens},
		{"cost", cfg.Cost},
		{"journal", cfg.Journal},
	}
	for _, s := range sections {
		if err := validate.Struct(s.v); err != nil {
			return fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}
	if _, err := redflag.FromSpecs(cfg.RedFlags); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Gate builds the configured red-flag gate.
func (cfg *Config) Gate() (redflag.Gate, error) {
	return redflag.FromSpecs(cfg.RedFlags)
}

// Serializer returns the configured canonicalizer.
func (cfg *Config) Serializer() canonical.Serializer {
	if cfg.Canonical.Mode == CanonicalSemantic {
		return canonical.NewSemantic(cfg.Canonical.SemanticOptions)
	}
	return canonical.Exact()
}

// NormalizeHeaders trims header names and values and drops empty entries.
func NormalizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	clean := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		clean[key] = val
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}
