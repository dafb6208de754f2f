// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vote

import "sort"

// Candidate is one canonical answer and its vote count.
type Candidate struct {
	Key   string `json:"key"`
	Votes int    `json:"votes"`
}

// Tally counts votes per canonical key and keeps the first raw response seen for
// each key as its representative. A Tally belongs to a single run and is not safe
// for concurrent use; the engine mutates it only from its aggregation loop.
type Tally[O any] struct {
	counts map[string]int
	reps   map[string]O
	total  int
}

// NewTally returns an empty tally.
func NewTally[O any]() *Tally[O] {
	return &Tally[O]{
		counts: make(map[string]int),
		reps:   make(map[string]O),
	}
}

// Add records one vote for key.
func (t *Tally[O]) Add(key string, response O) {
	if _, ok := t.reps[key]; !ok {
		t.reps[key] = response
	}
	t.counts[key]++
	t.total++
}

// Votes returns the vote count of key.
func (t *Tally[O]) Votes(key string) int { return t.counts[key] }

// Total returns the number of valid votes.
func (t *Tally[O]) Total() int { return t.total }

// Len returns the number of distinct candidates.
func (t *Tally[O]) Len() int { return len(t.counts) }

// Representative returns the raw response retained for key.
func (t *Tally[O]) Representative(key string) (O, bool) {
	rep, ok := t.reps[key]
	return rep, ok
}

// Counts returns a copy of the key to vote-count mapping.
func (t *Tally[O]) Counts() map[string]int {
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// Ranked returns candidates by descending vote count. Ties are ordered by key so
// the ranking never depends on insertion or map iteration order.
func (t *Tally[O]) Ranked() []Candidate {
	ranked := make([]Candidate, 0, len(t.counts))
	for k, v := range t.counts {
		ranked = append(ranked, Candidate{Key: k, Votes: v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Votes != ranked[j].Votes {
			return ranked[i].Votes > ranked[j].Votes
		}
		return ranked[i].Key < ranked[j].Key
	})
	return ranked
}

// leaderAndRunnerUp splits a ranking into the leader and the runner-up vote count.
func leaderAndRunnerUp(ranked []Candidate) (Candidate, int, bool) {
	if len(ranked) == 0 {
		return Candidate{}, 0, false
	}
	second := 0
	if len(ranked) > 1 {
		second = ranked[1].Votes
	}
	return ranked[0], second, true
}

// decide applies the natural termination rule of strategy.
func decide(strategy Strategy, k int, ranked []Candidate) (Candidate, bool) {
	leader, second, ok := leaderAndRunnerUp(ranked)
	if !ok {
		return Candidate{}, false
	}
	switch strategy {
	case FirstToK:
		return leader, leader.Votes >= k
	default:
		return leader, leader.Votes >= k+second
	}
}

// guaranteed reports whether the leader wins even if every one of the remaining
// samples goes to the runner-up.
//
// Both conditions imply the matching natural rule in decide (remaining >= 0), so
// a guaranteed leader is always the leader decide would pick from the same ranking.
func guaranteed(strategy Strategy, k int, ranked []Candidate, remaining int) (Candidate, bool) {
	leader, second, ok := leaderAndRunnerUp(ranked)
	if !ok {
		return Candidate{}, false
	}
	switch strategy {
	case FirstToK:
		return leader, leader.Votes >= k
	default:
		return leader, leader.Votes >= k+second+remaining
	}
}
