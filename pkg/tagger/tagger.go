package tagger

import (
	"context"
	"sort"
	"strings"

	"github.com/cuemby/pindex/pkg/types"
)

// Tagger produces zero-shot enrichments for text and images. Implementations
// return (nil, nil) when they have nothing to add; callers treat nil as "no
// enrichment" and never fail on tagger errors.
type Tagger interface {
	TagText(ctx context.Context, text string) (*types.TagResult, error)
	TagImage(ctx context.Context, cid string, verdict *types.Verdict) (*types.TagResult, error)
}

// FallbackTagger is the in-process tagger used when the worker is disabled
// or unavailable. It does cheap frequency-based keyword extraction for text
// and has no image capability.
type FallbackTagger struct{}

// NewFallback creates the in-process fallback tagger.
func NewFallback() *FallbackTagger {
	return &FallbackTagger{}
}

// TagText extracts the most frequent long words as topics.
func (f *FallbackTagger) TagText(_ context.Context, text string) (*types.TagResult, error) {
	counts := make(map[string]int)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()[]{}")
		if len(word) < 5 || len(word) > 24 {
			continue
		}
		clean := true
		for i := 0; i < len(word); i++ {
			if word[i] < 'a' || word[i] > 'z' {
				clean = false
				break
			}
		}
		if clean {
			counts[word]++
		}
	}
	if len(counts) == 0 {
		return nil, nil
	}

	type wc struct {
		word  string
		count int
	}
	sorted := make([]wc, 0, len(counts))
	for w, c := range counts {
		sorted = append(sorted, wc{w, c})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].word < sorted[j].word
	})

	n := len(sorted)
	if n > 3 {
		n = 3
	}
	topics := make([]string, 0, n)
	for _, e := range sorted[:n] {
		topics = append(topics, e.word)
	}
	return &types.TagResult{Topics: topics, Tokens: counts}, nil
}

// TagImage has no in-process implementation.
func (f *FallbackTagger) TagImage(context.Context, string, *types.Verdict) (*types.TagResult, error) {
	return nil, nil
}
