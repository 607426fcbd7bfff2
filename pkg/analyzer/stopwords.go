package analyzer

// Stopword sets per language. English is the default; French is applied when
// the caller asks for it.

var stopwordsEN = makeSet(
	"the", "and", "for", "are", "but", "not", "you", "all", "any", "can",
	"her", "was", "one", "our", "out", "day", "get", "has", "him", "his",
	"how", "man", "new", "now", "old", "see", "two", "way", "who", "boy",
	"did", "its", "let", "put", "say", "she", "too", "use", "that", "with",
	"have", "this", "will", "your", "from", "they", "know", "want", "been",
	"good", "much", "some", "time", "very", "when", "come", "here", "just",
	"like", "long", "make", "many", "more", "only", "over", "such", "take",
	"than", "them", "well", "were", "what", "into", "also", "their", "there",
	"which", "would", "about", "could", "other", "these", "first", "after",
)

var stopwordsFR = makeSet(
	"les", "des", "est", "une", "dans", "que", "qui", "pas", "pour", "sur",
	"avec", "son", "ses", "par", "mais", "comme", "tout", "nous", "vous",
	"ils", "elle", "elles", "leur", "leurs", "cette", "ces", "aux", "ont",
	"sont", "être", "avoir", "fait", "plus", "sans", "sous", "entre",
	"etre", "deux", "meme", "bien", "aussi", "donc", "alors", "ainsi",
)

func makeSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// stopwordsFor returns the stopword set for lang. French adds to the English
// base set; anything else gets English only.
func stopwordsFor(lang string) map[string]bool {
	if lang != "fr" {
		return stopwordsEN
	}
	merged := make(map[string]bool, len(stopwordsEN)+len(stopwordsFR))
	for w := range stopwordsEN {
		merged[w] = true
	}
	for w := range stopwordsFR {
		merged[w] = true
	}
	return merged
}
