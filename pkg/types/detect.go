package types

// Signals carries per-detector diagnostics for a detection run. It is
// persisted as signals_json. Nil sub-structs are omitted from the JSON.
type Signals struct {
	Magic              *MagicSignal      `json:"magic,omitempty"`
	Container          *ContainerSignal  `json:"container,omitempty"`
	HTTP               *HTTPSignal       `json:"http,omitempty"`
	Heuristic          *HeuristicSignal  `json:"heuristic,omitempty"`
	ExternalClassifier *ClassifierSignal `json:"external_classifier,omitempty"`
	TimingMs           int64             `json:"timing_ms,omitempty"`
}

// MagicSignal records the magic-byte detector outcome.
type MagicSignal struct {
	Mime       string  `json:"mime"`
	Ext        string  `json:"ext,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ContainerSignal records the container-sniff outcome (zip family, pdf, car).
type ContainerSignal struct {
	Format     string  `json:"format"`
	Subtype    string  `json:"subtype,omitempty"`
	Confidence float64 `json:"confidence"`
}

// HTTPSignal records structural facts about the gateway responses.
type HTTPSignal struct {
	Status       int    `json:"status,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	RangeIgnored bool   `json:"range_ignored,omitempty"`
	TotalLength  int64  `json:"total_length,omitempty"`
	BytesRead    int    `json:"bytes_read,omitempty"`
}

// HeuristicSignal records the textual fallback detector outcome.
type HeuristicSignal struct {
	TextLike      bool    `json:"text_like"`
	PrintableFrac float64 `json:"printable_frac,omitempty"`
	PDFScore      int     `json:"pdf_score,omitempty"`
}

// ClassifierSignal records the external classifier response.
type ClassifierSignal struct {
	Mime       string  `json:"mime"`
	Kind       string  `json:"kind,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Sample holds the byte windows collected for a CID plus the structural
// facts needed by downstream analyzers.
type Sample struct {
	Head []byte
	Tail []byte
	Mid  []byte

	BytesRead    int
	RangeIgnored bool
	TotalLength  int64
}

// Combined returns head+mid+tail concatenated for whole-sample scans.
func (s *Sample) Combined() []byte {
	if s == nil {
		return nil
	}
	out := make([]byte, 0, len(s.Head)+len(s.Mid)+len(s.Tail))
	out = append(out, s.Head...)
	out = append(out, s.Mid...)
	out = append(out, s.Tail...)
	return out
}

// Verdict is the merged output of a detection run.
type Verdict struct {
	CID             string          `json:"cid"`
	Mime            string          `json:"mime"`
	ExtGuess        string          `json:"ext_guess,omitempty"`
	Kind            Kind            `json:"kind"`
	Confidence      float64         `json:"confidence"`
	Source          DetectionSource `json:"source"`
	Signals         Signals         `json:"signals"`
	DetectorVersion string          `json:"detector_version"`
	IndexedAt       int64           `json:"indexed_at"`
	Size            *int64          `json:"size,omitempty"`
	Disagreement    bool            `json:"disagreement,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`

	// Sample is carried to the analyzer so content analysis does not
	// re-fetch bytes. Never serialized.
	Sample *Sample `json:"-"`
}
