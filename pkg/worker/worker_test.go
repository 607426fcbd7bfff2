package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pindex/pkg/analyzer"
	"github.com/cuemby/pindex/pkg/catalog"
	"github.com/cuemby/pindex/pkg/detector"
	"github.com/cuemby/pindex/pkg/gateway"
	"github.com/cuemby/pindex/pkg/noderpc"
	"github.com/cuemby/pindex/pkg/types"
)

// fakeNode emulates the storage node RPC: a mutable pin set and per-CID
// directory listings.
type fakeNode struct {
	mu       sync.Mutex
	pins     []string
	listings map[string][]map[string]any
	notDirs  map[string]bool
}

func (f *fakeNode) setPins(pins ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins = pins
}

func (f *fakeNode) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/pins", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		keys := make(map[string]any, len(f.pins))
		for _, p := range f.pins {
			keys[p] = map[string]string{"type": "recursive"}
		}
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	})
	mux.HandleFunc("/ls", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		cid := r.URL.Query().Get("arg")
		if f.notDirs[cid] {
			http.Error(w, "merkledag: not a directory", http.StatusBadRequest)
			return
		}
		links := f.listings[cid]
		json.NewEncoder(w).Encode(map[string]any{
			"Objects": []map[string]any{{"Links": links}},
		})
	})
	return mux
}

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "test.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	require.NoError(t, cat.Migrate(context.Background()))
	return cat
}

func newNodeClient(t *testing.T, f *fakeNode) *noderpc.Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return noderpc.NewClient(srv.URL, 5*time.Second, 0)
}

func TestPinSyncAddsAndRemoves(t *testing.T) {
	cat := newTestCatalog(t)
	node := &fakeNode{}
	node.setPins("bafya", "bafyb")
	ps := NewPinSync(cat, newNodeClient(t, node))
	ctx := context.Background()

	require.NoError(t, ps.Run(ctx))

	roots, err := cat.ListPresentPinRoots(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bafya", "bafyb"}, roots)

	// A pin vanishes; the row is logically removed, not deleted.
	node.setPins("bafya")
	require.NoError(t, ps.Run(ctx))

	roots, err = cat.ListPresentPinRoots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bafya"}, roots)

	gone, err := cat.GetCID(ctx, "bafyb")
	require.NoError(t, err)
	assert.False(t, gone.Present)
	assert.NotNil(t, gone.RemovedAt)

	state, err := cat.GetMetricsState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.PinsCurrent)
	assert.True(t, state.PinsLastRefreshOK)
}

func TestPinSyncSparesExpandedRows(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.UpsertExpandedChild(ctx, "bafychild", 0, 1000))

	node := &fakeNode{}
	node.setPins("bafyroot")
	ps := NewPinSync(cat, newNodeClient(t, node))
	require.NoError(t, ps.Run(ctx))

	child, err := cat.GetCID(ctx, "bafychild")
	require.NoError(t, err)
	assert.True(t, child.Present, "expander-owned rows are not pin_sync's to remove")
}

func TestPinSyncRecordsFailure(t *testing.T) {
	cat := newTestCatalog(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ps := NewPinSync(cat, noderpc.NewClient(srv.URL, time.Second, 0))
	err := ps.Run(context.Background())
	require.Error(t, err)

	state, gerr := cat.GetMetricsState(context.Background())
	require.NoError(t, gerr)
	assert.False(t, state.PinsLastRefreshOK)
	assert.NotZero(t, state.PinsLastRefreshAt)
}

func testExpanderConfig() ExpanderConfig {
	return ExpanderConfig{
		MaxChildren:       100,
		MaxDepth:          3,
		TTL:               time.Hour,
		MaxBatch:          50,
		Concurrency:       1,
		PruneChildren:     true,
		TrackParent:       true,
		PathIndexMaxFiles: 100,
		PathIndexMaxDepth: 5,
		PathIndexMaxDirs:  20,
	}
}

func TestExpanderExpandsPinRoot(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.UpsertPinRoot(ctx, "bafyroot", 1000))

	node := &fakeNode{
		listings: map[string][]map[string]any{
			"bafyroot": {
				{"Hash": "bafyindex", "Name": "index.html", "Size": 200, "Type": 2},
				{"Hash": "bafyassets", "Name": "assets", "Size": 0, "Type": 1},
			},
			"bafyassets": {
				{"Hash": "bafylogo", "Name": "logo.png", "Size": 300, "Type": 2},
			},
		},
	}
	exp := NewDirExpander(cat, newNodeClient(t, node), testExpanderConfig())
	require.NoError(t, exp.Run(ctx))

	root, err := cat.GetCID(ctx, "bafyroot")
	require.NoError(t, err)
	assert.True(t, root.IsDirectory)
	assert.NotNil(t, root.ExpandedAt)
	assert.Nil(t, root.ExpandError)

	// Children became rows at depth 1 with expanded provenance.
	child, err := cat.GetCID(ctx, "bafyindex")
	require.NoError(t, err)
	assert.True(t, child.Present)
	assert.Equal(t, types.PresentSourceExpanded, child.PresentSource)
	assert.Equal(t, 1, child.ExpandDepth)

	edges, err := cat.ListChildEdges(ctx, "bafyroot", 10)
	require.NoError(t, err)
	assert.Len(t, edges, 2)

	// The path index reached into the subdirectory.
	paths, err := cat.ListPathsForRoot(ctx, "bafyroot", 10)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "assets/logo.png", paths[0].Path)
	assert.Equal(t, "index.html", paths[1].Path)

	// Site entrypoint selected.
	root, err = cat.GetCID(ctx, "bafyroot")
	require.NoError(t, err)
	require.NotNil(t, root.SiteEntryPath)
	assert.Equal(t, "index.html", *root.SiteEntryPath)
	require.NotNil(t, root.SiteEntryCID)
	assert.Equal(t, "bafyindex", *root.SiteEntryCID)
}

func TestExpanderMarksNotDirectory(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.UpsertPinRoot(ctx, "bafyfile", 1000))

	node := &fakeNode{notDirs: map[string]bool{"bafyfile": true}}
	exp := NewDirExpander(cat, newNodeClient(t, node), testExpanderConfig())
	require.NoError(t, exp.Run(ctx))

	rec, err := cat.GetCID(ctx, "bafyfile")
	require.NoError(t, err)
	assert.False(t, rec.IsDirectory)
	assert.NotNil(t, rec.ExpandedAt)
	assert.Nil(t, rec.ExpandError)
}

func TestExpanderTruncatesLargeListings(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.UpsertPinRoot(ctx, "bafybig", 1000))

	var links []map[string]any
	for i := 0; i < 10; i++ {
		links = append(links, map[string]any{
			"Hash": fmt.Sprintf("bafyc%02d", i), "Name": fmt.Sprintf("f%02d.bin", i), "Size": 1, "Type": 2,
		})
	}
	node := &fakeNode{listings: map[string][]map[string]any{"bafybig": links}}

	cfg := testExpanderConfig()
	cfg.MaxChildren = 4
	exp := NewDirExpander(cat, newNodeClient(t, node), cfg)
	require.NoError(t, exp.Run(ctx))

	rec, err := cat.GetCID(ctx, "bafybig")
	require.NoError(t, err)
	require.NotNil(t, rec.ExpandError)
	assert.Equal(t, "too_many_children:10", *rec.ExpandError)

	edges, err := cat.ListChildEdges(ctx, "bafybig", 100)
	require.NoError(t, err)
	assert.Len(t, edges, 4)
}

func TestExpanderPrunesVanishedChildren(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.UpsertPinRoot(ctx, "bafydir", 1000))

	node := &fakeNode{
		listings: map[string][]map[string]any{
			"bafydir": {
				{"Hash": "bafykeep", "Name": "keep.txt", "Size": 1, "Type": 2},
				{"Hash": "bafydrop", "Name": "drop.txt", "Size": 1, "Type": 2},
			},
		},
	}
	exp := NewDirExpander(cat, newNodeClient(t, node), testExpanderConfig())
	require.NoError(t, exp.Run(ctx))

	// Second sweep: drop.txt is gone from the listing. Force re-expansion
	// by clearing the freshness window.
	time.Sleep(5 * time.Millisecond)
	cfg := testExpanderConfig()
	cfg.TTL = 0
	exp = NewDirExpander(cat, newNodeClient(t, node), cfg)
	node.mu.Lock()
	node.listings["bafydir"] = node.listings["bafydir"][:1]
	node.mu.Unlock()
	require.NoError(t, exp.Run(ctx))

	edges, err := cat.ListChildEdges(ctx, "bafydir", 10)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "bafykeep", edges[0].ChildCID)

	dropped, err := cat.GetCID(ctx, "bafydrop")
	require.NoError(t, err)
	assert.False(t, dropped.Present, "orphaned expanded child is demoted")

	kept, err := cat.GetCID(ctx, "bafykeep")
	require.NoError(t, err)
	assert.True(t, kept.Present)
}

func TestCrawlerIndexesHTML(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.UpsertPinRoot(ctx, "bafypage", 1000))

	html := `<html><head><title>Physics Lectures</title></head>
<body><p>physics lectures physics notes physics</p></body></html>`
	gwSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	}))
	defer gwSrv.Close()

	gw := gateway.NewClient(gwSrv.URL, 5*time.Second, 0)
	det := detector.New(gw, detector.Config{SampleBytes: 4096, MaxTotalBytes: 12288}, nil)
	an := analyzer.New(nil, analyzer.Config{})

	crawler := NewTypeCrawler(cat, det, an, 2, 128)
	require.NoError(t, crawler.Run(ctx))

	rec, err := cat.GetCID(ctx, "bafypage")
	require.NoError(t, err)
	require.NotNil(t, rec.Mime)
	assert.Equal(t, "text/html", *rec.Mime)
	assert.Equal(t, types.KindHTML, rec.Kind)
	assert.Equal(t, detector.Version, rec.DetectorVersion)
	require.NotNil(t, rec.TagsJSON)
	assert.Contains(t, *rec.TagsJSON, "kind:html")

	tokens, err := cat.TokensForCID(ctx, "bafypage")
	require.NoError(t, err)
	require.NotEmpty(t, tokens)
	assert.Equal(t, "physics", tokens[0].Token)

	// Already-current rows are not re-selected.
	cands, err := cat.SelectDetectionCandidates(ctx, detector.Version, 10)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestCrawlerRecordsDetectionError(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.UpsertPinRoot(ctx, "bafybroken", 1000))

	gwSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gwSrv.Close()

	gw := gateway.NewClient(gwSrv.URL, time.Second, 0)
	det := detector.New(gw, detector.Config{}, nil)
	crawler := NewTypeCrawler(cat, det, analyzer.New(nil, analyzer.Config{}), 1, 128)
	require.NoError(t, crawler.Run(ctx))

	rec, err := cat.GetCID(ctx, "bafybroken")
	require.NoError(t, err)
	require.NotNil(t, rec.Error)
	assert.Equal(t, detector.Version, rec.DetectorVersion)
}

func TestMimeHintForName(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"index.html", "text/html"},
		{"README.md", "text/markdown"},
		{"book.epub", "application/epub+zip"},
		{"movie.en.srt", "application/x-subrip"},
		{"captions.vtt", "text/vtt"},
		{"paper.PDF", "application/pdf"},
		{"binary.bin", ""},
		{"noextension", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, mimeHintForName(tc.name), "name %q", tc.name)
	}
}

// tickTask counts runs and can block to provoke overlap.
type tickTask struct {
	runs  int64
	block chan struct{}
}

func (t *tickTask) Name() string { return "tick" }

func (t *tickTask) Run(ctx context.Context) error {
	atomic.AddInt64(&t.runs, 1)
	if t.block != nil {
		<-t.block
	}
	return nil
}

func TestRunnerRunsImmediatelyAndStops(t *testing.T) {
	task := &tickTask{}
	r := NewRunner(task, time.Hour)
	r.Start(context.Background())

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&task.runs) == 1
	}, time.Second, 10*time.Millisecond)

	r.Stop()
	assert.Equal(t, int64(1), atomic.LoadInt64(&task.runs))
}

func TestRunnerSkipsOverlappingTicks(t *testing.T) {
	task := &tickTask{block: make(chan struct{})}
	r := NewRunner(task, 20*time.Millisecond)
	r.Start(context.Background())

	// The first run blocks; later ticks must be skipped, not stacked.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&task.runs))

	close(task.block)
	r.Stop()
}
