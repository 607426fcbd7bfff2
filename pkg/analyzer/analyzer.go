package analyzer

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/cuemby/pindex/pkg/log"
	"github.com/cuemby/pindex/pkg/types"
)

// Tagger is the enrichment capability the analyzer delegates to. Both calls
// may return (nil, nil): no enrichment available.
type Tagger interface {
	TagText(ctx context.Context, text string) (*types.TagResult, error)
	TagImage(ctx context.Context, cid string, verdict *types.Verdict) (*types.TagResult, error)
}

// Config controls which enrichments run.
type Config struct {
	Lang              string
	TextTaggerEnable  bool
	ImageTaggerEnable bool
}

// Analyzer extracts tokens, topics and content class from a detection
// verdict's sample, dispatched by kind.
type Analyzer struct {
	tagger Tagger
	cfg    Config
}

// New creates an analyzer. tagger may be nil (no enrichment).
func New(tagger Tagger, cfg Config) *Analyzer {
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	return &Analyzer{tagger: tagger, cfg: cfg}
}

// Analyze runs content analysis for the verdict. name is the filename hint
// from the path index, empty when unknown. A nil result means the kind
// carries no analyzable content.
func (a *Analyzer) Analyze(ctx context.Context, v *types.Verdict, name string) (*types.Analysis, error) {
	switch v.Kind {
	case types.KindHTML:
		return a.analyzeHTML(ctx, v)
	case types.KindText, types.KindDoc:
		return a.analyzeText(ctx, v)
	case types.KindImage:
		return a.analyzeImage(ctx, v, name)
	case types.KindVideo:
		return a.analyzeVideo(v, name), nil
	default:
		return nil, nil
	}
}

func (a *Analyzer) analyzeHTML(ctx context.Context, v *types.Verdict) (*types.Analysis, error) {
	body := v.Sample.Combined()
	meta := extractHTML(body)

	tokens := tokenize(meta.Text, a.cfg.Lang)
	mergeTokens(tokens, tokenize(meta.Title, a.cfg.Lang))
	mergeTokens(tokens, tokenize(meta.Description, a.cfg.Lang))

	analysis := &types.Analysis{
		Tokens:       tokens,
		ContentClass: types.ContentClassSite,
		Lang:         a.cfg.Lang,
		Confidence:   0.8,
		From:         []string{"html"},
		BytesRead:    len(body),
		Title:        meta.Title,
		Description:  meta.Description,
	}

	taggerTopics := a.applyTextTagger(ctx, v.CID, meta.Text, analysis)
	analysis.Topics = mergeTopics(taggerTopics, deriveTopics(analysis.Tokens))
	return analysis, nil
}

func (a *Analyzer) analyzeText(ctx context.Context, v *types.Verdict) (*types.Analysis, error) {
	body := v.Sample.Combined()

	lines := strings.Split(string(body), "\n")
	if len(lines) > 20 {
		lines = lines[:20]
	}
	excerpt := strings.Join(lines, "\n")

	analysis := &types.Analysis{
		Tokens:       tokenize(excerpt, a.cfg.Lang),
		ContentClass: types.ContentClassDoc,
		Lang:         a.cfg.Lang,
		Confidence:   0.7,
		From:         []string{"text"},
		BytesRead:    len(body),
	}

	// Subtitle tracks look like text but carry cue arrows.
	for _, line := range lines {
		if strings.Contains(line, "-->") {
			analysis.ContentClass = types.ContentClassVideo
			analysis.From = append(analysis.From, "subtitle")
			break
		}
	}

	taggerTopics := a.applyTextTagger(ctx, v.CID, excerpt, analysis)
	analysis.Topics = mergeTopics(taggerTopics, deriveTopics(analysis.Tokens))
	return analysis, nil
}

func (a *Analyzer) analyzeImage(ctx context.Context, v *types.Verdict, name string) (*types.Analysis, error) {
	analysis := &types.Analysis{
		Tokens:       tokenizeFilename(name, a.cfg.Lang),
		ContentClass: types.ContentClassImage,
		Lang:         a.cfg.Lang,
		Confidence:   0.6,
		From:         []string{"filename"},
	}

	var taggerTopics []string
	if a.cfg.ImageTaggerEnable && a.tagger != nil {
		result, err := a.tagger.TagImage(ctx, v.CID, v)
		if err != nil {
			logger := log.WithCID(v.CID)
			logger.Debug().Err(err).Msg("image tagger failed")
		} else if result != nil {
			mergeTokens(analysis.Tokens, result.Tokens)
			taggerTopics = result.Topics
			analysis.From = append(analysis.From, "image_tagger")
		}
	}

	analysis.Topics = mergeTopics(taggerTopics, deriveTopics(analysis.Tokens))
	return analysis, nil
}

func (a *Analyzer) analyzeVideo(v *types.Verdict, name string) *types.Analysis {
	tokens := map[string]int{"video": 1}
	if v.Signals.Container != nil && v.Signals.Container.Format != "" {
		tokens[v.Signals.Container.Format] = 1
	}
	if v.ExtGuess != "" && isAlpha(v.ExtGuess) && len(v.ExtGuess) >= 3 {
		tokens[v.ExtGuess] = 1
	}
	mergeTokens(tokens, tokenizeFilename(name, a.cfg.Lang))

	return &types.Analysis{
		Tokens:       tokens,
		Topics:       deriveTopics(tokens),
		ContentClass: types.ContentClassVideo,
		Lang:         a.cfg.Lang,
		Confidence:   0.75,
		From:         []string{"video"},
	}
}

// applyTextTagger runs the text tagger when enabled and folds the result
// into analysis, returning the tagger's topics. Failures degrade to no
// enrichment.
func (a *Analyzer) applyTextTagger(ctx context.Context, cid, text string, analysis *types.Analysis) []string {
	if !a.cfg.TextTaggerEnable || a.tagger == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	result, err := a.tagger.TagText(ctx, text)
	if err != nil {
		logger := log.WithCID(cid)
		logger.Debug().Err(err).Msg("text tagger failed")
		return nil
	}
	if result == nil {
		return nil
	}
	mergeTokens(analysis.Tokens, result.Tokens)
	analysis.From = append(analysis.From, "text_tagger")
	return result.Topics
}

// tokenizeFilename tokenizes a path's base name without its extension.
func tokenizeFilename(name, lang string) map[string]int {
	if name == "" {
		return map[string]int{}
	}
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return tokenize(base, lang)
}
