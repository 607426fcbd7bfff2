package types

// Kind is the coarse content class assigned by the type detector.
type Kind string

const (
	KindImage   Kind = "image"
	KindHTML    Kind = "html"
	KindText    Kind = "text"
	KindDoc     Kind = "doc"
	KindVideo   Kind = "video"
	KindAudio   Kind = "audio"
	KindArchive Kind = "archive"
	KindPackage Kind = "package"
	KindIPLD    Kind = "ipld"
	KindUnknown Kind = "unknown"

	// KindDAG is a legacy value still present in older catalogues. It is
	// treated like KindIPLD by directory heuristics and never written anew.
	KindDAG Kind = "dag"
)

// DetectionSource identifies which detector produced the winning verdict.
type DetectionSource string

const (
	SourceMagic      DetectionSource = "magic"
	SourceContainer  DetectionSource = "container"
	SourceClassifier DetectionSource = "external-classifier"
	SourceHeuristic  DetectionSource = "heuristic"
	SourceHead       DetectionSource = "head"
)

// PresentSource records how a CID entered the catalogue.
type PresentSource string

const (
	// PresentSourcePinRoot marks CIDs observed directly in the node's pin set.
	PresentSourcePinRoot PresentSource = "pin-root"
	// PresentSourceExpanded marks CIDs discovered by the directory expander.
	PresentSourceExpanded PresentSource = "expanded"
)

// CIDRecord is one row of the catalogue. Timestamps are unix milliseconds.
// Nullable columns use pointers; nil means SQL NULL.
type CIDRecord struct {
	CID string `json:"cid"`

	// Presence lifecycle
	Present       bool          `json:"present"`
	PresentSource PresentSource `json:"present_source,omitempty"`
	PresentReason string        `json:"present_reason,omitempty"`
	FirstSeenAt   int64         `json:"first_seen_at"`
	LastSeenAt    int64         `json:"last_seen_at"`
	RemovedAt     *int64        `json:"removed_at,omitempty"`

	// Detection
	SizeBytes  *int64          `json:"size_bytes,omitempty"`
	Mime       *string         `json:"mime,omitempty"`
	ExtGuess   *string         `json:"ext_guess,omitempty"`
	Kind       Kind            `json:"kind,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Source     DetectionSource `json:"source,omitempty"`

	// Artifacts
	SignalsJSON     *string `json:"signals_json,omitempty"`
	TagsJSON        *string `json:"tags_json,omitempty"`
	DetectorVersion string  `json:"detector_version,omitempty"`
	IndexedAt       int64   `json:"indexed_at,omitempty"`
	Error           *string `json:"error,omitempty"`
	UpdatedAt       int64   `json:"updated_at,omitempty"`

	// Directory lifecycle
	IsDirectory bool    `json:"is_directory"`
	ExpandedAt  *int64  `json:"expanded_at,omitempty"`
	ExpandError *string `json:"expand_error,omitempty"`
	ExpandDepth int     `json:"expand_depth"`

	// Site root fields
	SiteEntryPath      *string `json:"site_entry_path,omitempty"`
	SiteEntryCID       *string `json:"site_entry_cid,omitempty"`
	SiteEntryIndexedAt *int64  `json:"site_entry_indexed_at,omitempty"`
}

// Edge is one parent→child link in cid_edges.
type Edge struct {
	ParentCID   string `json:"parent_cid"`
	ChildCID    string `json:"child_cid"`
	FirstSeenAt int64  `json:"first_seen_at"`
	LastSeenAt  int64  `json:"last_seen_at"`
}

// PathEntry is one row of the per-root path index.
type PathEntry struct {
	RootCID  string  `json:"root_cid"`
	Path     string  `json:"path"`
	LeafCID  string  `json:"leaf_cid"`
	Depth    int     `json:"depth"`
	MimeHint *string `json:"mime_hint,omitempty"`
}

// TokenCount is one row of the inverted token index.
type TokenCount struct {
	Token string `json:"token"`
	CID   string `json:"cid"`
	Count int    `json:"count"`
}

// MetricsState is the metrics singleton row. It mirrors the Prometheus
// counters so /metrics/state can serve them without scraping.
type MetricsState struct {
	PinsCurrent          int64 `json:"pins_current"`
	PinsLastRefreshAt    int64 `json:"pins_last_refresh_at"`
	PinsLastRefreshMs    int64 `json:"pins_last_refresh_ms"`
	PinsLastRefreshOK    bool  `json:"pins_last_refresh_ok"`
	TypesIndexedTotal    int64 `json:"types_indexed_total"`
	DirsExpandedTotal    int64 `json:"dirs_expanded_total"`
	DirExpandErrorsTotal int64 `json:"dir_expand_errors_total"`
	RangeIgnoredTotal    int64 `json:"range_ignored_total"`
}

// DirEntry is one child returned by the node's directory listing.
type DirEntry struct {
	CID  string
	Name string
	Size int64
	Type int
}
