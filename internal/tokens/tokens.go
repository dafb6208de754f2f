// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tokens counts tokens in prompts and responses. Counts feed the too-long
// red flag and the average-token inputs of cost estimates.
package tokens

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
)

const (
	MethodSimple   = "simple"
	MethodTiktoken = "tiktoken"
)

// Estimator counts tokens with the configured method. It is safe for concurrent use.
type Estimator struct {
	method string

	once    sync.Once
	codec   tokenizer.Codec
	loadErr error
}

// NewEstimator returns an estimator for method; unknown methods fall back to simple.
func NewEstimator(method string) *Estimator {
	if method != MethodSimple && method != MethodTiktoken {
		method = MethodSimple
	}
	return &Estimator{method: method}
}

// Method returns the estimation method in use.
func (e *Estimator) Method() string { return e.method }

// Count returns the token count of content. The tiktoken method uses the
// cl100k_base encoding and falls back to the simple estimate if it cannot load.
func (e *Estimator) Count(content string) int {
	if content == "" {
		return 0
	}
	if e.method == MethodTiktoken {
		if codec := e.load(); codec != nil {
			ids, _, err := codec.Encode(content)
			if err == nil {
				return len(ids)
			}
			log.Debugf("tokens: encode failed, using simple estimate: %v", err)
		}
	}
	return simpleEstimate(content)
}

func (e *Estimator) load() tokenizer.Codec {
	e.once.Do(func() {
		e.codec, e.loadErr = tokenizer.Get(tokenizer.Cl100kBase)
		if e.loadErr != nil {
			log.Warnf("tokens: cl100k_base unavailable, using simple estimate: %v", e.loadErr)
		}
	})
	return e.codec
}

// simpleEstimate approximates subword tokenization as 1.3 tokens per word.
func simpleEstimate(content string) int {
	n := int(float64(countWords(content)) * 1.3)
	if n == 0 {
		return 1
	}
	return n
}

func countWords(content string) int {
	words := 0
	inWord := false
	for _, r := range content {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if isSpace {
			inWord = false
		} else if !inWord {
			words++
			inWord = true
		}
	}
	return words
}
