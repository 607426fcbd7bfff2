package tags

import (
	"github.com/cuemby/pindex/pkg/types"
)

// Synthesize derives the stable, low-cardinality tag set for a detection
// verdict. It is pure: the output depends only on the verdict's detection
// fields, size and container signals, and the order is fixed.
func Synthesize(v types.Verdict) []string {
	out := make([]string, 0, 12)

	kind := v.Kind
	if kind == "" {
		kind = types.KindUnknown
	}
	out = append(out, "kind:"+string(kind))
	out = append(out, "category:"+category(kind))

	if v.Mime != "" {
		out = append(out, "mime:"+v.Mime)
	}
	if v.ExtGuess != "" {
		out = append(out, "ext:"+v.ExtGuess)
	}
	if v.Source != "" {
		out = append(out, "detected_by:"+string(v.Source))
	}

	out = append(out, "confidence:"+confidenceBand(v.Confidence))

	if v.Size != nil {
		out = append(out, "size_bucket:"+sizeBucket(*v.Size))
	}

	// The container sniffer is skipped when an earlier stage already won, so
	// fall back to the winning mime for the container tag.
	container := ""
	if v.Signals.Container != nil {
		switch v.Signals.Container.Format {
		case "zip", "pdf", "car":
			container = v.Signals.Container.Format
		}
	}
	if container == "" {
		container = containerForMime(v.Mime)
	}
	if container != "" {
		out = append(out, "container:"+container)
	}

	switch v.ExtGuess {
	case "docx", "xlsx", "pptx":
		out = append(out, "office:"+v.ExtGuess)
	case "epub":
		out = append(out, "ebook:epub")
	}

	if kind == types.KindUnknown {
		out = append(out, "needs:metadata")
	}
	if kind == types.KindImage {
		out = append(out, "needs:ai_tags")
	}

	return out
}

func containerForMime(mime string) string {
	switch mime {
	case "application/pdf":
		return "pdf"
	case "application/zip",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/epub+zip",
		"application/vnd.android.package-archive",
		"application/java-archive":
		return "zip"
	case "application/vnd.ipld.car":
		return "car"
	default:
		return ""
	}
}

func category(kind types.Kind) string {
	switch kind {
	case types.KindImage, types.KindVideo, types.KindAudio:
		return "media"
	case types.KindHTML, types.KindText, types.KindDoc:
		return "document"
	case types.KindArchive, types.KindPackage:
		return "package"
	default:
		return "unknown"
	}
}

func confidenceBand(c float64) string {
	switch {
	case c >= 0.8:
		return "high"
	case c >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// sizeBucket bands sizes into six buckets. Boundaries step by 2^6 starting
// at 1 KiB: 1 KiB, 64 KiB, 4 MiB, 256 MiB, 16 GiB.
func sizeBucket(size int64) string {
	switch {
	case size < 1<<10:
		return "xs"
	case size < 1<<16:
		return "s"
	case size < 1<<22:
		return "m"
	case size < 1<<28:
		return "l"
	case size < 1<<34:
		return "xl"
	default:
		return "xxl"
	}
}

// Merge folds the synthesized tag vocabulary into an existing tags artifact,
// replacing its Tags slice while preserving analysis fields.
func Merge(existing *types.Tags, synthesized []string) *types.Tags {
	if existing == nil {
		existing = &types.Tags{Version: types.TagsVersion}
	}
	existing.Version = types.TagsVersion
	existing.Tags = synthesized
	return existing
}
