package memory

import (
	"context"
	"crypto/md5" // #nosec G501 -- content addressing, not a security boundary
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// SearchResult is one recalled item; smaller distances are closer matches.
type SearchResult struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Distance float64        `json:"distance"`
}

// LongTerm is a content-addressed store queryable by semantic similarity.
type LongTerm interface {
	// Add stores content and returns its id. An empty id defaults to ContentID(content),
	// so identical content collapses onto one item.
	Add(ctx context.Context, content string, metadata map[string]any, id string) (string, error)
	Search(ctx context.Context, query string, k int, filter map[string]any) ([]SearchResult, error)
	Delete(ctx context.Context, id string) error
}

// Backend hands out named long-term collections.
type Backend interface {
	Collection(name string) LongTerm
}

// ContentID is the hex MD5 of content.
func ContentID(content string) string {
	sum := md5.Sum([]byte(content)) // #nosec G401 -- content addressing
	return hex.EncodeToString(sum[:])
}

type item struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// vector is a term-frequency bag of words.
type vector map[string]float64

func embed(text string) vector {
	v := make(vector)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		v[word]++
	}

	return v
}

// cosineDistance returns 1 - cosine similarity, in [0, 1] for term-frequency vectors.
func cosineDistance(a, b vector) float64 {
	var dot, normA, normB float64

	for term, weight := range a {
		normA += weight * weight
		dot += weight * b[term]
	}

	for _, weight := range b {
		normB += weight * weight
	}

	if normA == 0 || normB == 0 {
		return 1
	}

	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

func matchesFilter(metadata, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}

	return true
}

// rank scores items against query and returns the k closest. Ties keep input order.
func rank(items []item, query string, k int, filter map[string]any) []SearchResult {
	if k <= 0 {
		return nil
	}

	queryVector := embed(query)
	results := make([]SearchResult, 0, len(items))

	for _, it := range items {
		if !matchesFilter(it.Metadata, filter) {
			continue
		}

		results = append(results, SearchResult{
			ID:       it.ID,
			Content:  it.Content,
			Metadata: it.Metadata,
			Distance: cosineDistance(queryVector, embed(it.Content)),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > k {
		results = results[:k]
	}

	return results
}

func sortItemsByID(items []item) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})
}
