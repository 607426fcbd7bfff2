package types

// TagsVersion is written into every tags_json blob so consumers can migrate.
const TagsVersion = 2

// ContentClass is the semantic class assigned by the content analyzer.
type ContentClass string

const (
	ContentClassSite  ContentClass = "site"
	ContentClassVideo ContentClass = "video"
	ContentClassImage ContentClass = "image"
	ContentClassDoc   ContentClass = "doc"
)

// Tags is the persisted tags_json artifact: derived topics and tokens from
// content analysis plus the synthesizer's stable tag vocabulary.
type Tags struct {
	Version      int             `json:"v"`
	Topics       []string        `json:"topics,omitempty"`
	Tokens       map[string]int  `json:"tokens,omitempty"`
	ContentClass ContentClass    `json:"content_class,omitempty"`
	Lang         string          `json:"lang,omitempty"`
	Confidence   float64         `json:"confidence,omitempty"`
	Signals      *AnalysisSignal `json:"signals,omitempty"`
	DerivedFrom  *DerivedFrom    `json:"derived_from,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
}

// DerivedFrom records the site entrypoint a root's tags were copied from.
type DerivedFrom struct {
	CID  string `json:"cid"`
	Path string `json:"path"`
}

// AnalysisSignal names the analysis inputs and how many bytes they covered.
type AnalysisSignal struct {
	From      []string `json:"from,omitempty"`
	BytesRead int      `json:"bytes_read,omitempty"`
}

// Analysis is the content analyzer's output before it is folded into Tags.
// A nil *Analysis means the kind carries no analyzable content.
type Analysis struct {
	Topics       []string
	Tokens       map[string]int
	ContentClass ContentClass
	Lang         string
	Confidence   float64
	From         []string
	BytesRead    int

	// Title and Description are kept for diagnostics; their tokens are
	// already folded into Tokens.
	Title       string
	Description string
}

// TagResult is an enrichment produced by a tagger. Nil means no enrichment.
type TagResult struct {
	Topics []string       `json:"topics,omitempty"`
	Tokens map[string]int `json:"tokens,omitempty"`
}
