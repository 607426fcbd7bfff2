package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/pindex/pkg/catalog"
	"github.com/cuemby/pindex/pkg/log"
	"github.com/cuemby/pindex/pkg/metrics"
	"github.com/cuemby/pindex/pkg/noderpc"
	"github.com/cuemby/pindex/pkg/types"
)

// dirEntryDir is the node's type code for directory links.
const dirEntryDir = 1

// ExpanderConfig tunes one DirExpander.
type ExpanderConfig struct {
	MaxChildren   int
	MaxDepth      int
	TTL           time.Duration
	MaxBatch      int
	Concurrency   int
	PruneChildren bool
	TrackParent   bool

	PathIndexMaxFiles int
	PathIndexMaxDepth int
	PathIndexMaxDirs  int
}

// DirExpander walks present rows that look like directories, lists their
// children via the node and records children, edges and, for pin roots, the
// per-root path index and site entrypoint.
type DirExpander struct {
	cat  *catalog.Catalog
	node *noderpc.Client
	cfg  ExpanderConfig
}

// NewDirExpander creates the expander task.
func NewDirExpander(cat *catalog.Catalog, node *noderpc.Client, cfg ExpanderConfig) *DirExpander {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 200
	}
	return &DirExpander{cat: cat, node: node, cfg: cfg}
}

func (d *DirExpander) Name() string { return "dir_expander" }

// Run expands one batch of candidates. Listing failures are recorded on the
// row and counted; they never abort the batch.
func (d *DirExpander) Run(ctx context.Context) error {
	now := time.Now().UnixMilli()
	cands, err := d.cat.SelectExpandCandidates(ctx, d.cfg.MaxDepth, d.cfg.TTL, d.cfg.MaxBatch, now)
	if err != nil {
		return err
	}

	// Rows whose detected kind rules out a directory are settled without a
	// remote call.
	likely := cands[:0]
	for _, rec := range cands {
		if isLikelyDirectory(rec) {
			likely = append(likely, rec)
			continue
		}
		if err := d.cat.MarkNotDirectory(ctx, rec.CID, now); err != nil {
			logger := log.WithCID(rec.CID)
			logger.Warn().Err(err).Msg("failed to settle non-directory row")
		}
	}
	if len(likely) == 0 {
		return nil
	}

	var next int64 = -1
	var expanded, failed int64

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				n := atomic.AddInt64(&next, 1)
				if n >= int64(len(likely)) {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				ok, attempted := d.expandOne(gctx, likely[n])
				if ok {
					atomic.AddInt64(&expanded, 1)
				} else if attempted {
					atomic.AddInt64(&failed, 1)
				}
			}
		})
	}
	err = g.Wait()

	logger := log.WithTask(d.Name())
	if expanded > 0 {
		if aerr := d.cat.AddDirsExpanded(ctx, expanded); aerr != nil {
			logger.Warn().Err(aerr).Msg("failed to persist expanded counter")
		}
	}
	if failed > 0 {
		if aerr := d.cat.AddDirExpandErrors(ctx, failed); aerr != nil {
			logger.Warn().Err(aerr).Msg("failed to persist error counter")
		}
	}
	if expanded > 0 || failed > 0 {
		logger.Info().
			Int64("expanded", expanded).
			Int64("errors", failed).
			Int("candidates", len(likely)).
			Msg("directory sweep complete")
	}
	return err
}

// isLikelyDirectory gates the remote listing: only rows whose kind is
// structural or still undetected are worth probing.
func isLikelyDirectory(rec *types.CIDRecord) bool {
	if rec.IsDirectory {
		return true
	}
	switch rec.Kind {
	case "", types.KindUnknown, types.KindIPLD, types.KindDAG:
		return true
	default:
		return false
	}
}

// expandOne lists one candidate and persists the outcome. Returns
// (expanded, attempted): attempted is false when the row turned out not to be
// a directory.
func (d *DirExpander) expandOne(ctx context.Context, rec *types.CIDRecord) (bool, bool) {
	logger := log.WithCID(rec.CID)
	now := time.Now().UnixMilli()

	entries, err := d.node.ListDirectory(ctx, rec.CID)
	if err != nil {
		if isNotDirectoryErr(err) {
			if merr := d.cat.MarkNotDirectory(ctx, rec.CID, now); merr != nil {
				logger.Warn().Err(merr).Msg("failed to mark non-directory")
			}
			return false, false
		}
		logger.Warn().Err(err).Msg("directory listing failed")
		metrics.DirExpandErrorsTotal.Inc()
		if serr := d.cat.SetExpandError(ctx, rec.CID, err.Error(), now); serr != nil {
			logger.Error().Err(serr).Msg("failed to record expand error")
		}
		return false, true
	}

	if len(entries) == 0 {
		if merr := d.cat.MarkDirectoryExpanded(ctx, rec.CID, nil, now); merr != nil {
			logger.Error().Err(merr).Msg("failed to mark empty directory")
			return false, true
		}
		metrics.DirsExpandedTotal.Inc()
		return true, true
	}

	var marker *string
	if len(entries) > d.cfg.MaxChildren {
		m := fmt.Sprintf("too_many_children:%d", len(entries))
		marker = &m
		entries = entries[:d.cfg.MaxChildren]
	}

	err = d.cat.WithTx(ctx, func(ctx context.Context) error {
		if err := d.cat.MarkDirectoryExpanded(ctx, rec.CID, marker, now); err != nil {
			return err
		}
		newChildren := make(map[string]struct{}, len(entries))
		for _, entry := range entries {
			newChildren[entry.CID] = struct{}{}
			if err := d.cat.UpsertExpandedChild(ctx, entry.CID, rec.ExpandDepth, now); err != nil {
				return fmt.Errorf("failed to upsert child %s: %w", entry.CID, err)
			}
			if d.cfg.TrackParent {
				if err := d.cat.UpsertEdge(ctx, rec.CID, entry.CID, now); err != nil {
					return fmt.Errorf("failed to upsert edge to %s: %w", entry.CID, err)
				}
			}
		}
		if d.cfg.TrackParent && d.cfg.PruneChildren {
			return d.pruneVanished(ctx, rec.CID, newChildren, now)
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist expansion")
		metrics.DirExpandErrorsTotal.Inc()
		return false, true
	}

	metrics.DirsExpandedTotal.Inc()
	logger.Debug().Int("children", len(entries)).Msg("directory expanded")

	// Pin roots get a path index and site entrypoint. The sub-listings run
	// outside the expansion transaction: they are remote calls.
	if rec.PresentSource == types.PresentSourcePinRoot && rec.ExpandDepth == 0 {
		d.indexRoot(ctx, rec.CID, entries)
	}
	return true, true
}

// pruneVanished removes edges to children absent from the fresh listing and
// demotes children left with no remaining parent. Pin roots are never demoted.
func (d *DirExpander) pruneVanished(ctx context.Context, parent string, current map[string]struct{}, now int64) error {
	previous, err := d.cat.ListChildEdges(ctx, parent, d.cfg.MaxChildren*2)
	if err != nil {
		return err
	}
	for _, edge := range previous {
		if _, ok := current[edge.ChildCID]; ok {
			continue
		}
		if err := d.cat.DeleteEdge(ctx, parent, edge.ChildCID); err != nil {
			return err
		}
		remaining, err := d.cat.CountEdgesForChild(ctx, edge.ChildCID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if err := d.cat.DemoteOrphan(ctx, edge.ChildCID, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func isNotDirectoryErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not a directory") ||
		strings.Contains(msg, "proto: required field") ||
		strings.Contains(msg, "unknown node type")
}

// dirWork is one pending directory in the path-index walk.
type dirWork struct {
	cid   string
	path  string
	depth int
}

// indexRoot builds the bounded path index under a pin root and selects its
// site entrypoint. Every directory listing here is a fresh remote call.
func (d *DirExpander) indexRoot(ctx context.Context, root string, rootEntries []types.DirEntry) {
	logger := log.WithCID(root)
	now := time.Now().UnixMilli()

	visited := map[string]bool{root: true}
	var files, dirs int
	var htmlPaths []types.PathEntry

	queue := []dirWork{{cid: root, depth: 0}}
	pending := map[string][]types.DirEntry{root: rootEntries}

	for len(queue) > 0 {
		work := queue[0]
		queue = queue[1:]

		entries, ok := pending[work.cid]
		if !ok {
			var err error
			entries, err = d.node.ListDirectory(ctx, work.cid)
			if err != nil {
				logger.Debug().Err(err).Str("path", work.path).Msg("path-index listing failed")
				continue
			}
		}
		delete(pending, work.cid)

		for _, entry := range entries {
			if entry.Name == "" || entry.CID == "" {
				continue
			}
			entryPath := path.Join(work.path, entry.Name)
			if entry.Type == dirEntryDir {
				if visited[entry.CID] || dirs >= d.cfg.PathIndexMaxDirs || work.depth+1 >= d.cfg.PathIndexMaxDepth {
					continue
				}
				visited[entry.CID] = true
				dirs++
				queue = append(queue, dirWork{cid: entry.CID, path: entryPath, depth: work.depth + 1})
				continue
			}

			hint := mimeHintForName(entry.Name)
			if hint == "" || files >= d.cfg.PathIndexMaxFiles {
				continue
			}
			pe := types.PathEntry{
				RootCID:  root,
				Path:     entryPath,
				LeafCID:  entry.CID,
				Depth:    work.depth + 1,
				MimeHint: &hint,
			}
			if err := d.cat.UpsertPath(ctx, pe); err != nil {
				logger.Warn().Err(err).Str("path", entryPath).Msg("failed to index path")
				continue
			}
			files++
			if hint == "text/html" {
				htmlPaths = append(htmlPaths, pe)
			}
		}
	}

	if len(htmlPaths) > 0 {
		d.selectSiteEntry(ctx, root, htmlPaths, now)
	}
	logger.Debug().Int("files", files).Int("dirs", dirs).Msg("path index built")
}

// selectSiteEntry picks the root's HTML entrypoint: the shallowest index.html
// when one exists, otherwise the shallowest HTML file, ties broken by path.
func (d *DirExpander) selectSiteEntry(ctx context.Context, root string, htmlPaths []types.PathEntry, now int64) {
	logger := log.WithCID(root)

	sort.Slice(htmlPaths, func(i, j int) bool {
		if htmlPaths[i].Depth != htmlPaths[j].Depth {
			return htmlPaths[i].Depth < htmlPaths[j].Depth
		}
		return htmlPaths[i].Path < htmlPaths[j].Path
	})
	entry := htmlPaths[0]
	for _, p := range htmlPaths {
		if path.Base(p.Path) == "index.html" {
			entry = p
			break
		}
	}

	if err := d.cat.SetSiteEntry(ctx, root, entry.Path, entry.LeafCID, now); err != nil {
		logger.Warn().Err(err).Msg("failed to set site entrypoint")
		return
	}
	d.deriveRootTags(ctx, root, entry, now)
}

// deriveRootTags copies the entrypoint's tags artifact onto the root, stamped
// with its provenance. A root whose entrypoint is not yet analyzed keeps its
// current tags until the next sweep.
func (d *DirExpander) deriveRootTags(ctx context.Context, root string, entry types.PathEntry, now int64) {
	logger := log.WithCID(root)

	leaf, err := d.cat.GetCID(ctx, entry.LeafCID)
	if err != nil || leaf.TagsJSON == nil {
		return
	}

	var artifact types.Tags
	if err := json.Unmarshal([]byte(*leaf.TagsJSON), &artifact); err != nil {
		logger.Debug().Err(err).Msg("entrypoint tags undecodable")
		return
	}
	artifact.DerivedFrom = &types.DerivedFrom{CID: entry.LeafCID, Path: entry.Path}

	encoded, err := json.Marshal(&artifact)
	if err != nil {
		return
	}

	current, err := d.cat.GetCID(ctx, root)
	if err == nil && current.TagsJSON != nil && *current.TagsJSON == string(encoded) {
		return
	}
	if err := d.cat.UpdateTagsJSON(ctx, root, string(encoded), now); err != nil {
		logger.Warn().Err(err).Msg("failed to derive root tags")
	}
}

// mimeHintForName maps an allow-listed file extension onto a mime hint.
// Files outside the allow list are not path-indexed.
func mimeHintForName(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	switch ext {
	case "html", "htm":
		return "text/html"
	case "css":
		return "text/css"
	case "js", "mjs":
		return "text/javascript"
	case "json":
		return "application/json"
	case "xml":
		return "application/xml"
	case "txt":
		return "text/plain"
	case "md":
		return "text/markdown"
	case "pdf":
		return "application/pdf"
	case "epub":
		return "application/epub+zip"
	case "srt":
		return "application/x-subrip"
	case "vtt":
		return "text/vtt"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "svg":
		return "image/svg+xml"
	case "webp":
		return "image/webp"
	case "ico":
		return "image/x-icon"
	case "mp4":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mp3":
		return "audio/mpeg"
	case "wasm":
		return "application/wasm"
	default:
		return ""
	}
}
