package analyzer

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxTokensPerSource bounds how many tokens a single source (page text,
// filename, tagger) may contribute.
const maxTokensPerSource = 256

var deaccent = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// fold de-accents via NFKD, drops combining marks and lowercases.
func fold(s string) string {
	out, _, err := transform.String(deaccent, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// tokenize turns free text into a token→count map. Tokens are ASCII-folded,
// length >= 3, strictly alphabetic, and stopwords for lang are dropped.
// Counting stops after maxTokensPerSource accepted tokens.
func tokenize(text, lang string) map[string]int {
	folded := fold(text)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	stop := stopwordsFor(lang)
	counts := make(map[string]int)
	accepted := 0
	for _, field := range strings.Fields(b.String()) {
		if len(field) < 3 || !isAlpha(field) {
			continue
		}
		if stop[field] {
			continue
		}
		counts[field]++
		accepted++
		if accepted >= maxTokensPerSource {
			break
		}
	}
	return counts
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}

// genericTopics are too common to be useful as topics.
var genericTopics = map[string]bool{
	"file":    true,
	"data":    true,
	"content": true,
}

// deriveTopics picks up to five topics from the highest-frequency
// non-generic tokens, ordered by (count desc, token asc).
func deriveTopics(tokens map[string]int) []string {
	type tc struct {
		token string
		count int
	}
	sorted := make([]tc, 0, len(tokens))
	for t, c := range tokens {
		if genericTopics[t] {
			continue
		}
		sorted = append(sorted, tc{t, c})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].token < sorted[j].token
	})

	n := len(sorted)
	if n > 5 {
		n = 5
	}
	topics := make([]string, 0, n)
	for _, e := range sorted[:n] {
		topics = append(topics, e.token)
	}
	return topics
}

// mergeTokens adds src counts into dst.
func mergeTokens(dst, src map[string]int) {
	for t, c := range src {
		dst[t] += c
	}
}

// mergeTopics prepends tagger topics to derived ones, deduplicated,
// tagger-first.
func mergeTopics(taggerTopics, derived []string) []string {
	seen := make(map[string]bool, len(taggerTopics)+len(derived))
	out := make([]string, 0, len(taggerTopics)+len(derived))
	for _, lists := range [][]string{taggerTopics, derived} {
		for _, t := range lists {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
