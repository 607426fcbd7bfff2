package detector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/pindex/pkg/gateway"
	"github.com/cuemby/pindex/pkg/log"
	"github.com/cuemby/pindex/pkg/types"
)

// Version is baked into every verdict. Bumping it forces the type crawler to
// reprocess all present rows.
const Version = "det-v3"

// Config holds detector tuning.
type Config struct {
	SampleBytes   int64
	MaxTotalBytes int64
	ClassifierURL string
}

// Detector runs the bounded-I/O type detection state machine: HEAD probe,
// byte-window sampling, then magic, container-sniff, optional external
// classifier and textual-heuristic detectors, merged by confidence.
type Detector struct {
	gw  *gateway.Client
	cfg Config

	// onRangeIgnored fires once per detection when the gateway answered a
	// range request with a full 200 body.
	onRangeIgnored func()

	classifier *classifierClient
}

// New creates a detector. onRangeIgnored may be nil.
func New(gw *gateway.Client, cfg Config, onRangeIgnored func()) *Detector {
	if cfg.SampleBytes <= 0 {
		cfg.SampleBytes = 256 * 1024
	}
	if cfg.MaxTotalBytes <= 0 {
		cfg.MaxTotalBytes = 768 * 1024
	}
	d := &Detector{
		gw:             gw,
		cfg:            cfg,
		onRangeIgnored: onRangeIgnored,
	}
	if cfg.ClassifierURL != "" {
		d.classifier = newClassifierClient(cfg.ClassifierURL)
	}
	return d
}

// candidate is one detector's proposed verdict before arbitration.
type candidate struct {
	mime       string
	ext        string
	kind       types.Kind
	confidence float64
	source     types.DetectionSource
}

// Detect classifies a CID. sizeBytes is optional (nil = derive via HEAD).
func (d *Detector) Detect(ctx context.Context, cid string, sizeBytes *int64) (*types.Verdict, error) {
	start := time.Now()
	logger := log.WithCID(cid)

	verdict := &types.Verdict{
		CID:             cid,
		DetectorVersion: Version,
		IndexedAt:       time.Now().UnixMilli(),
	}

	// Step 1: HEAD probe.
	size := int64(-1)
	if sizeBytes != nil && *sizeBytes > 0 {
		size = *sizeBytes
	}
	head, err := d.gw.Head(ctx, cid)
	if err != nil {
		verdict.Warnings = append(verdict.Warnings, "head_failed")
		logger.Debug().Err(err).Msg("HEAD probe failed, sampling blind")
	} else {
		if size < 0 && head.TotalLength >= 0 {
			size = head.TotalLength
		}
		verdict.Signals.HTTP = &types.HTTPSignal{
			Status:      head.Status,
			ContentType: head.ContentType,
			TotalLength: head.TotalLength,
		}

		// Large media is expensive to sample and outside the text
		// pipeline: short-circuit on the declared content type.
		ct := strings.ToLower(head.ContentType)
		if strings.HasPrefix(ct, "video/") || strings.HasPrefix(ct, "audio/") {
			verdict.Mime = head.ContentType
			verdict.Kind = types.KindUnknown
			verdict.Source = types.SourceHead
			verdict.Confidence = 0.7
			verdict.Warnings = append(verdict.Warnings, "excluded_media")
			if size >= 0 {
				verdict.Size = &size
			}
			verdict.Signals.TimingMs = time.Since(start).Milliseconds()
			return verdict, nil
		}
	}

	// Step 2: sampling.
	sample, err := d.collectSample(ctx, cid, size)
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", cid, err)
	}
	if sample.RangeIgnored {
		if verdict.Signals.HTTP == nil {
			verdict.Signals.HTTP = &types.HTTPSignal{}
		}
		verdict.Signals.HTTP.RangeIgnored = true
		if d.onRangeIgnored != nil {
			d.onRangeIgnored()
		}
	}
	if verdict.Signals.HTTP != nil {
		verdict.Signals.HTTP.BytesRead = sample.BytesRead
	}
	if size < 0 && sample.TotalLength >= 0 {
		size = sample.TotalLength
	}
	if size >= 0 {
		verdict.Size = &size
	}
	verdict.Sample = sample

	var candidates []candidate

	// Step 3: magic detection over the head sample.
	if magic := detectMagic(sample.Head); magic != nil {
		candidates = append(candidates, *magic)
		verdict.Signals.Magic = &types.MagicSignal{
			Mime:       magic.mime,
			Ext:        magic.ext,
			Confidence: magic.confidence,
		}
		if magic.confidence >= 0.95 && magic.mime != genericZipMime {
			finish(verdict, candidates, start)
			return verdict, nil
		}
	}

	// Step 4: container sniff over the combined sample.
	if cont := sniffContainer(sample); cont != nil {
		candidates = append(candidates, cont.candidate)
		verdict.Signals.Container = &types.ContainerSignal{
			Format:     cont.format,
			Subtype:    cont.subtype,
			Confidence: cont.candidate.confidence,
		}
		if cont.candidate.confidence >= 0.85 {
			finish(verdict, candidates, start)
			return verdict, nil
		}
	}

	// Step 5: optional external classifier.
	if d.classifier != nil {
		if cls, err := d.classifier.classify(ctx, size, sample.Head, sample.Tail); err != nil {
			verdict.Warnings = append(verdict.Warnings, "classifier_failed")
			logger.Debug().Err(err).Msg("external classifier failed")
		} else if cls != nil {
			candidates = append(candidates, *cls)
			verdict.Signals.ExternalClassifier = &types.ClassifierSignal{
				Mime:       cls.mime,
				Kind:       string(cls.kind),
				Confidence: cls.confidence,
			}
		}
	}

	// Step 6: textual fallback heuristic.
	if heur, sig := detectHeuristic(sample); heur != nil {
		candidates = append(candidates, *heur)
		verdict.Signals.Heuristic = sig
	} else if sig != nil {
		verdict.Signals.Heuristic = sig
	}

	finish(verdict, candidates, start)
	return verdict, nil
}

// finish arbitrates: the highest-confidence candidate wins; disagreement is
// set when any two candidates proposed conflicting (mime, kind).
func finish(v *types.Verdict, candidates []candidate, start time.Time) {
	v.Signals.TimingMs = time.Since(start).Milliseconds()

	if len(candidates) == 0 {
		v.Mime = "application/octet-stream"
		v.Kind = types.KindUnknown
		v.Source = types.SourceHeuristic
		v.Confidence = 0.1
		return
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.confidence > best.confidence {
			best = c
		}
	}
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[i].mime != candidates[j].mime || candidates[i].kind != candidates[j].kind {
				v.Disagreement = true
			}
		}
	}

	v.Mime = best.mime
	v.ExtGuess = best.ext
	v.Kind = best.kind
	v.Confidence = best.confidence
	v.Source = best.source
}

// KindForMime maps a MIME type onto the coarse kind taxonomy.
func KindForMime(mime string) types.Kind {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return types.KindImage
	case mime == "text/html" || mime == "application/xhtml+xml":
		return types.KindHTML
	case strings.HasPrefix(mime, "text/"):
		return types.KindText
	case mime == "application/pdf",
		strings.HasPrefix(mime, "application/vnd.openxmlformats-officedocument."),
		mime == "application/epub+zip",
		mime == "application/msword":
		return types.KindDoc
	case strings.HasPrefix(mime, "video/"):
		return types.KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return types.KindAudio
	case mime == "application/zip", mime == "application/x-tar",
		mime == "application/gzip", mime == "application/x-7z-compressed",
		mime == "application/x-rar-compressed":
		return types.KindArchive
	case mime == "application/vnd.android.package-archive",
		mime == "application/x-debian-package",
		mime == "application/x-rpm":
		return types.KindPackage
	case mime == "application/vnd.ipld.car", mime == "application/vnd.ipld.dag-cbor":
		return types.KindIPLD
	default:
		return types.KindUnknown
	}
}
