// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package provider adapts OpenAI-compatible chat completion endpoints to the
// single-call oracle shape used by the voting engine.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 60 * time.Second

	userAgent = "switchaivote"
)

// Config describes one upstream endpoint.
type Config struct {
	BaseURL string `yaml:"base-url" json:"base_url" validate:"required,url"`
	// APIKey is sent as a bearer token; may be empty for local servers.
	APIKey       string            `yaml:"api-key" json:"-"`
	Model        string            `yaml:"model" json:"model" validate:"required"`
	Temperature  float64           `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int               `yaml:"max-tokens" json:"max_tokens" validate:"gte=0"`
	SystemPrompt string            `yaml:"system-prompt" json:"system_prompt"`
	Timeout      time.Duration     `yaml:"timeout" json:"timeout" validate:"gte=0"`
	Headers      map[string]string `yaml:"headers" json:"headers,omitempty"`
}

// Completion is one parsed chat completion.
type Completion struct {
	Text             string
	Model            string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Client calls an OpenAI-compatible /chat/completions endpoint. It is safe for
// concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New returns a client for cfg. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Model returns the configured upstream model.
func (c *Client) Model() string { return c.cfg.Model }

// Generate returns the completion text for prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	completion, err := c.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}

// Complete sends prompt as a single user message.
func (c *Client) Complete(ctx context.Context, prompt string) (*Completion, error) {
	payload, err := c.buildPayload(prompt)
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Errorf("provider: close response body error: %v", errClose)
		}
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		log.Debugf("provider: request error, status: %d, body: %s", httpResp.StatusCode, summarizeErrorBody(httpResp.Header.Get("Content-Type"), body))
		return nil, &StatusError{
			Code:       httpResp.StatusCode,
			Message:    errorMessage(httpResp.Header.Get("Content-Type"), body),
			retryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After"), time.Now()),
		}
	}
	return parseCompletion(body)
}

func (c *Client) buildPayload(prompt string) ([]byte, error) {
	payload := []byte(`{"messages":[]}`)
	var err error
	if payload, err = sjson.SetBytes(payload, "model", c.cfg.Model); err != nil {
		return nil, err
	}
	if c.cfg.SystemPrompt != "" {
		if payload, err = sjson.SetBytes(payload, "messages.-1", map[string]string{"role": "system", "content": c.cfg.SystemPrompt}); err != nil {
			return nil, err
		}
	}
	if payload, err = sjson.SetBytes(payload, "messages.-1", map[string]string{"role": "user", "content": prompt}); err != nil {
		return nil, err
	}
	if payload, err = sjson.SetBytes(payload, "temperature", c.cfg.Temperature); err != nil {
		return nil, err
	}
	if c.cfg.MaxTokens > 0 {
		if payload, err = sjson.SetBytes(payload, "max_tokens", c.cfg.MaxTokens); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func parseCompletion(body []byte) (*Completion, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("provider: invalid JSON response: %s", summarizeErrorBody("", body))
	}
	root := gjson.ParseBytes(body)
	choice := root.Get("choices.0")
	if !choice.Exists() {
		return nil, fmt.Errorf("provider: response has no choices")
	}
	return &Completion{
		Text:             choice.Get("message.content").String(),
		Model:            root.Get("model").String(),
		FinishReason:     choice.Get("finish_reason").String(),
		PromptTokens:     int(root.Get("usage.prompt_tokens").Int()),
		CompletionTokens: int(root.Get("usage.completion_tokens").Int()),
	}, nil
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code       int
	Message    string
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider: status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("provider: status %d", e.Code)
}

func (e *StatusError) StatusCode() int { return e.Code }

// RetryAfter is the server-requested delay, or zero.
func (e *StatusError) RetryAfter() time.Duration { return e.retryAfter }

// Transient reports whether a retry may succeed: throttling, timeouts and server errors.
func (e *StatusError) Transient() bool {
	switch {
	case e.Code == http.StatusTooManyRequests, e.Code == http.StatusRequestTimeout:
		return true
	case e.Code >= 500:
		return e.Code != http.StatusNotImplemented
	default:
		return false
	}
}

func errorMessage(contentType string, body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	if msg := gjson.GetBytes(body, "error"); msg.Type == gjson.String {
		return msg.String()
	}
	return summarizeErrorBody(contentType, body)
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

const maxErrorBody = 512

func summarizeErrorBody(contentType string, body []byte) string {
	isHTML := strings.Contains(strings.ToLower(contentType), "text/html")
	if !isHTML {
		trimmed := bytes.TrimSpace(bytes.ToLower(body))
		if bytes.HasPrefix(trimmed, []byte("<!doctype html")) || bytes.HasPrefix(trimmed, []byte("<html")) {
			isHTML = true
		}
	}
	if isHTML {
		return "[html body omitted]"
	}
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
