// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package canonical maps raw oracle responses to comparison keys used for vote
// tallying. It provides an exact-match default, a semantic serializer that ignores
// case, whitespace and JSON key order, and an offline similarity clustering facility.
package canonical

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Serializer turns a response into its canonical key.
type Serializer interface {
	Serialize(v any) string
}

// SerializerFunc adapts a function into a Serializer.
type SerializerFunc func(v any) string

// Serialize calls f(v).
func (f SerializerFunc) Serialize(v any) string { return f(v) }

type exact struct{}

// Exact returns the default serializer: strings pass through unchanged, other values
// are JSON encoded, and values that cannot be encoded fall back to fmt formatting.
func Exact() Serializer { return exact{} }

func (exact) Serialize(v any) string { return Text(v) }

// Text renders v the way the default serializer does.
func Text(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// SemanticOptions controls which differences the semantic serializer ignores.
type SemanticOptions struct {
	// IgnoreCase lowercases the key.
	IgnoreCase bool `yaml:"ignore-case" json:"ignore_case"`
	// CollapseWhitespace trims and collapses whitespace runs to one space.
	CollapseWhitespace bool `yaml:"collapse-whitespace" json:"collapse_whitespace"`
	// JSONAware parses JSON responses, sorts object keys recursively and removes
	// insignificant whitespace before comparing.
	JSONAware bool `yaml:"json-aware" json:"json_aware"`
}

// DefaultSemanticOptions enables every normalisation.
func DefaultSemanticOptions() SemanticOptions {
	return SemanticOptions{IgnoreCase: true, CollapseWhitespace: true, JSONAware: true}
}

// Semantic canonicalises responses that differ only in presentation.
type Semantic struct {
	opts SemanticOptions
}

// NewSemantic creates a semantic serializer.
func NewSemantic(opts SemanticOptions) *Semantic {
	return &Semantic{opts: opts}
}

// Serialize implements Serializer.
func (s *Semantic) Serialize(v any) string {
	text := Text(v)
	if s.opts.JSONAware {
		if canonical, ok := CanonicalJSON(text); ok {
			if s.opts.IgnoreCase {
				return strings.ToLower(canonical)
			}
			return canonical
		}
	}
	return s.normalizeText(text)
}

func (s *Semantic) normalizeText(text string) string {
	if s.opts.CollapseWhitespace {
		text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	}
	if s.opts.IgnoreCase {
		text = strings.ToLower(text)
	}
	return text
}

// CanonicalJSON re-encodes a JSON document with object keys sorted at every level
// and no insignificant whitespace. Numbers are copied as written, so 1 and 1.0
// remain different keys. ok is false when text is not a single JSON value.
func CanonicalJSON(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return "", false
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return "", false
	}
	var buf bytes.Buffer
	if err := writeSorted(&buf, value); err != nil {
		return "", false
	}
	return buf.String(), true
}

func writeSorted(buf *bytes.Buffer, value any) error {
	switch val := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodedKey, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(encodedKey)
			buf.WriteByte(':')
			if err := writeSorted(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeSorted(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		// Numbers keep their literal text so integers beyond float64 precision stay distinct.
		buf.WriteString(val.String())
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	}
	return nil
}
