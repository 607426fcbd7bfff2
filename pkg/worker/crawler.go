package worker

import (
	"context"
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/pindex/pkg/analyzer"
	"github.com/cuemby/pindex/pkg/catalog"
	"github.com/cuemby/pindex/pkg/detector"
	"github.com/cuemby/pindex/pkg/log"
	"github.com/cuemby/pindex/pkg/metrics"
	"github.com/cuemby/pindex/pkg/tags"
	"github.com/cuemby/pindex/pkg/types"
)

// crawlBatch bounds how many candidates one iteration pulls from the
// catalogue. Remaining rows are picked up by the next tick.
const crawlBatch = 200

// TypeCrawler walks present rows that need (re-)detection, runs the detector
// and analyzer over each and persists verdict, tags artifact and token index.
type TypeCrawler struct {
	cat *catalog.Catalog
	det *detector.Detector
	an  *analyzer.Analyzer

	concurrency int
	maxTokens   int
}

// NewTypeCrawler creates the crawler task.
func NewTypeCrawler(cat *catalog.Catalog, det *detector.Detector, an *analyzer.Analyzer, concurrency, maxTokens int) *TypeCrawler {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxTokens < 1 {
		maxTokens = 128
	}
	return &TypeCrawler{cat: cat, det: det, an: an, concurrency: concurrency, maxTokens: maxTokens}
}

func (t *TypeCrawler) Name() string { return "type_crawler" }

// Run processes one batch of detection candidates with a bounded worker pool.
// Per-CID failures are recorded on the row and never abort the batch.
func (t *TypeCrawler) Run(ctx context.Context) error {
	cands, err := t.cat.SelectDetectionCandidates(ctx, detector.Version, crawlBatch)
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		return nil
	}

	var next int64 = -1
	var indexed int64

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < t.concurrency; i++ {
		g.Go(func() error {
			for {
				n := atomic.AddInt64(&next, 1)
				if n >= int64(len(cands)) {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				if t.processOne(gctx, cands[n]) {
					atomic.AddInt64(&indexed, 1)
				}
			}
		})
	}
	err = g.Wait()

	if indexed > 0 {
		logger := log.WithTask(t.Name())
		if aerr := t.cat.AddTypesIndexed(ctx, indexed); aerr != nil {
			logger.Warn().Err(aerr).Msg("failed to persist indexed counter")
		}
		logger.Info().
			Int64("indexed", indexed).
			Int("candidates", len(cands)).
			Msg("type crawl batch complete")
	}
	return err
}

// processOne detects, analyzes and persists a single CID. Returns true when
// the row was successfully indexed.
func (t *TypeCrawler) processOne(ctx context.Context, rec *types.CIDRecord) bool {
	logger := log.WithCID(rec.CID)
	now := time.Now().UnixMilli()

	verdict, err := t.det.Detect(ctx, rec.CID, rec.SizeBytes)
	if err != nil {
		logger.Warn().Err(err).Msg("detection failed")
		if serr := t.cat.SetDetectionError(ctx, rec.CID, err.Error(), detector.Version, now); serr != nil {
			logger.Error().Err(serr).Msg("failed to record detection error")
		}
		return false
	}

	// Analysis is enrichment: a failure degrades to synthesized tags only.
	var analysis *types.Analysis
	if verdict.Sample != nil {
		name := t.filenameHint(ctx, rec.CID, verdict.Kind)
		analysis, err = t.an.Analyze(ctx, verdict, name)
		if err != nil {
			logger.Debug().Err(err).Msg("content analysis failed")
			analysis = nil
		}
	}

	artifact := tagsArtifact(verdict, analysis)
	tagsJSON, err := json.Marshal(artifact)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode tags artifact")
		return false
	}
	signalsJSON, err := json.Marshal(verdict.Signals)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode detection signals")
		return false
	}

	update := catalog.DetectionUpdate{
		CID:             rec.CID,
		SizeBytes:       verdict.Size,
		Mime:            verdict.Mime,
		ExtGuess:        verdict.ExtGuess,
		Kind:            verdict.Kind,
		Confidence:      verdict.Confidence,
		Source:          verdict.Source,
		SignalsJSON:     string(signalsJSON),
		TagsJSON:        string(tagsJSON),
		DetectorVersion: verdict.DetectorVersion,
		IndexedAt:       verdict.IndexedAt,
	}
	tokens := indexableTokens(rec.CID, artifact.Tokens, t.maxTokens)

	err = t.cat.WithTx(ctx, func(ctx context.Context) error {
		if err := t.cat.UpdateDetection(ctx, update); err != nil {
			return err
		}
		return t.cat.ReplaceTokens(ctx, rec.CID, tokens)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist detection")
		return false
	}

	metrics.TypesIndexedTotal.Inc()
	logger.Debug().
		Str("mime", verdict.Mime).
		Str("kind", string(verdict.Kind)).
		Float64("confidence", verdict.Confidence).
		Msg("cid indexed")
	return true
}

// filenameHint looks up a path-index entry for kinds whose analysis benefits
// from the original filename.
func (t *TypeCrawler) filenameHint(ctx context.Context, cid string, kind types.Kind) string {
	if kind != types.KindImage && kind != types.KindVideo {
		return ""
	}
	path, err := t.cat.PathForLeaf(ctx, cid)
	if err != nil {
		logger := log.WithCID(cid)
		logger.Debug().Err(err).Msg("filename hint lookup failed")
		return ""
	}
	return path
}

// tagsArtifact folds analysis output and the synthesized vocabulary into the
// persisted tags_json blob.
func tagsArtifact(verdict *types.Verdict, analysis *types.Analysis) *types.Tags {
	artifact := &types.Tags{Version: types.TagsVersion}
	if analysis != nil {
		artifact.Topics = analysis.Topics
		artifact.Tokens = analysis.Tokens
		artifact.ContentClass = analysis.ContentClass
		artifact.Lang = analysis.Lang
		artifact.Confidence = analysis.Confidence
		if len(analysis.From) > 0 || analysis.BytesRead > 0 {
			artifact.Signals = &types.AnalysisSignal{
				From:      analysis.From,
				BytesRead: analysis.BytesRead,
			}
		}
	}
	return tags.Merge(artifact, tags.Synthesize(*verdict))
}

// indexableTokens filters the analysis tokens down to the inverted-index
// vocabulary and keeps only the top maxTokens by (count desc, token asc).
func indexableTokens(cid string, tokens map[string]int, maxTokens int) []types.TokenCount {
	out := make([]types.TokenCount, 0, len(tokens))
	for token, count := range tokens {
		if count <= 0 || len(token) < 3 || !validToken(token) {
			continue
		}
		out = append(out, types.TokenCount{Token: token, CID: cid, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Token < out[j].Token
	})
	if len(out) > maxTokens {
		out = out[:maxTokens]
	}
	return out
}

func validToken(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
