// Copyright 2026 The switchAIVote Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package canonical

import (
	"sort"
	"strings"
)

const (
	// DefaultClusterThreshold is the similarity a response needs to join a cluster.
	DefaultClusterThreshold = 0.9

	editDistanceWeight = 0.4
	jaccardWeight      = 0.6
)

// Normalize lowercases text and collapses whitespace runs.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " ")))
}

// Levenshtein returns the edit distance between a and b counted in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// EditSimilarity is 1 - levenshtein(a,b)/max(len(a),len(b)).
func EditSimilarity(a, b string) float64 {
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

// Jaccard returns the word-level Jaccard similarity of a and b over lowercased
// whitespace-separated tokens.
func Jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}

// Similarity scores two responses in [0,1]. Equal normalized strings score 1;
// otherwise the score blends edit similarity (0.4) and word Jaccard (0.6).
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1
	}
	return editDistanceWeight*EditSimilarity(na, nb) + jaccardWeight*Jaccard(na, nb)
}

// Cluster is a group of responses considered semantically equivalent.
type Cluster struct {
	// Canonical is the first member; later members are compared against it.
	Canonical string `json:"canonical"`
	// Members holds every response in the cluster, including Canonical.
	Members []string `json:"members"`
}

// Size returns the number of members.
func (c Cluster) Size() int { return len(c.Members) }

// ClusterResponses groups responses greedily: each response joins the first
// cluster whose canonical member scores at least threshold, otherwise it starts a
// new cluster. A threshold <= 0 selects DefaultClusterThreshold. Clusters are
// returned by descending size; equal sizes keep discovery order.
func ClusterResponses(responses []string, threshold float64) []Cluster {
	if threshold <= 0 {
		threshold = DefaultClusterThreshold
	}

	var clusters []Cluster
	for _, response := range responses {
		placed := false
		for i := range clusters {
			if Similarity(clusters[i].Canonical, response) >= threshold {
				clusters[i].Members = append(clusters[i].Members, response)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, Cluster{Canonical: response, Members: []string{response}})
		}
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Size() > clusters[j].Size()
	})
	return clusters
}
