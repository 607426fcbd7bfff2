package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pindex/pkg/types"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := Open(filepath.Join(t.TempDir(), "test.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	require.NoError(t, cat.Migrate(context.Background()))
	return cat
}

func TestMigrateIdempotent(t *testing.T) {
	cat := newTestCatalog(t)
	require.NoError(t, cat.Migrate(context.Background()))
	require.NoError(t, cat.Migrate(context.Background()))
}

func TestPinRootLifecycle(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.UpsertPinRoot(ctx, "bafyroot", 1000))

	rec, err := cat.GetCID(ctx, "bafyroot")
	require.NoError(t, err)
	assert.True(t, rec.Present)
	assert.Equal(t, types.PresentSourcePinRoot, rec.PresentSource)
	assert.Equal(t, 0, rec.ExpandDepth)
	assert.Nil(t, rec.RemovedAt)
	assert.Equal(t, int64(1000), rec.FirstSeenAt)

	// Logical removal keeps the row.
	require.NoError(t, cat.MarkRemoved(ctx, "bafyroot", 2000))
	rec, err = cat.GetCID(ctx, "bafyroot")
	require.NoError(t, err)
	assert.False(t, rec.Present)
	require.NotNil(t, rec.RemovedAt)
	assert.Equal(t, int64(2000), *rec.RemovedAt)

	// Re-pinning resurrects it and clears removed_at.
	require.NoError(t, cat.UpsertPinRoot(ctx, "bafyroot", 3000))
	rec, err = cat.GetCID(ctx, "bafyroot")
	require.NoError(t, err)
	assert.True(t, rec.Present)
	assert.Nil(t, rec.RemovedAt)
	assert.Equal(t, int64(1000), rec.FirstSeenAt)
	assert.Equal(t, int64(3000), rec.LastSeenAt)
}

func TestGetCIDNotFound(t *testing.T) {
	cat := newTestCatalog(t)
	_, err := cat.GetCID(context.Background(), "bafymissing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPresentSourceMonotonicTowardPinRoot(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	// Discovered by expansion first, then observed as a pin root.
	require.NoError(t, cat.UpsertExpandedChild(ctx, "bafyboth", 1, 1000))
	rec, err := cat.GetCID(ctx, "bafyboth")
	require.NoError(t, err)
	assert.Equal(t, types.PresentSourceExpanded, rec.PresentSource)
	assert.Equal(t, 2, rec.ExpandDepth)

	require.NoError(t, cat.UpsertPinRoot(ctx, "bafyboth", 2000))
	rec, err = cat.GetCID(ctx, "bafyboth")
	require.NoError(t, err)
	assert.Equal(t, types.PresentSourcePinRoot, rec.PresentSource)
	assert.Equal(t, 0, rec.ExpandDepth)

	// A later expansion sighting must not demote it.
	require.NoError(t, cat.UpsertExpandedChild(ctx, "bafyboth", 2, 3000))
	rec, err = cat.GetCID(ctx, "bafyboth")
	require.NoError(t, err)
	assert.Equal(t, types.PresentSourcePinRoot, rec.PresentSource)
	assert.Equal(t, 0, rec.ExpandDepth)
}

func TestExpandedChildDepthMerge(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.UpsertExpandedChild(ctx, "bafychild", 2, 1000))
	require.NoError(t, cat.UpsertExpandedChild(ctx, "bafychild", 0, 2000))

	rec, err := cat.GetCID(ctx, "bafychild")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ExpandDepth)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := cat.WithTx(ctx, func(ctx context.Context) error {
		if err := cat.UpsertPinRoot(ctx, "bafytx", 1000); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	_, err = cat.GetCID(ctx, "bafytx")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestWithTxNested(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	err := cat.WithTx(ctx, func(ctx context.Context) error {
		if err := cat.UpsertPinRoot(ctx, "bafynested", 1000); err != nil {
			return err
		}
		return cat.WithTx(ctx, func(ctx context.Context) error {
			// Reads inside the transaction see uncommitted writes.
			rec, err := cat.GetCID(ctx, "bafynested")
			if err != nil {
				return err
			}
			assert.True(t, rec.Present)
			return cat.UpsertEdge(ctx, "bafynested", "bafyinner", 1000)
		})
	})
	require.NoError(t, err)

	edges, err := cat.ListChildEdges(ctx, "bafynested", 10)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "bafyinner", edges[0].ChildCID)
}

func TestDetectionUpdateClearsError(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.UpsertPinRoot(ctx, "bafydet", 1000))
	require.NoError(t, cat.SetDetectionError(ctx, "bafydet", "gateway returned 504", "det-v3", 1500))

	rec, err := cat.GetCID(ctx, "bafydet")
	require.NoError(t, err)
	require.NotNil(t, rec.Error)

	size := int64(2048)
	require.NoError(t, cat.UpdateDetection(ctx, DetectionUpdate{
		CID:             "bafydet",
		SizeBytes:       &size,
		Mime:            "text/plain",
		ExtGuess:        "txt",
		Kind:            types.KindText,
		Confidence:      0.6,
		Source:          types.SourceHeuristic,
		SignalsJSON:     "{}",
		TagsJSON:        `{"v":2}`,
		DetectorVersion: "det-v3",
		IndexedAt:       2000,
	}))

	rec, err = cat.GetCID(ctx, "bafydet")
	require.NoError(t, err)
	assert.Nil(t, rec.Error)
	require.NotNil(t, rec.Mime)
	assert.Equal(t, "text/plain", *rec.Mime)
	assert.Equal(t, types.KindText, rec.Kind)
	require.NotNil(t, rec.SizeBytes)
	assert.Equal(t, int64(2048), *rec.SizeBytes)
}

func TestSelectDetectionCandidates(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.UpsertPinRoot(ctx, "bafynew", 1000))
	require.NoError(t, cat.UpsertPinRoot(ctx, "bafyold", 1000))
	require.NoError(t, cat.UpsertPinRoot(ctx, "bafydone", 1000))
	require.NoError(t, cat.UpsertPinRoot(ctx, "bafygone", 1000))
	require.NoError(t, cat.MarkRemoved(ctx, "bafygone", 1500))

	require.NoError(t, cat.UpdateDetection(ctx, DetectionUpdate{
		CID: "bafyold", Mime: "text/plain", Kind: types.KindText,
		DetectorVersion: "det-v2", IndexedAt: 1200, SignalsJSON: "{}", TagsJSON: "{}",
	}))
	require.NoError(t, cat.UpdateDetection(ctx, DetectionUpdate{
		CID: "bafydone", Mime: "text/plain", Kind: types.KindText,
		DetectorVersion: "det-v3", IndexedAt: 1200, SignalsJSON: "{}", TagsJSON: "{}",
	}))

	cands, err := cat.SelectDetectionCandidates(ctx, "det-v3", 10)
	require.NoError(t, err)

	got := make(map[string]bool)
	for _, c := range cands {
		got[c.CID] = true
	}
	assert.True(t, got["bafynew"], "never detected")
	assert.True(t, got["bafyold"], "stale detector version")
	assert.False(t, got["bafydone"], "up to date")
	assert.False(t, got["bafygone"], "not present")
}

func TestOrphanDemotionSparesPinRoots(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.UpsertExpandedChild(ctx, "bafyexp", 0, 1000))
	require.NoError(t, cat.UpsertPinRoot(ctx, "bafypin", 1000))

	require.NoError(t, cat.DemoteOrphan(ctx, "bafyexp", 2000))
	require.NoError(t, cat.DemoteOrphan(ctx, "bafypin", 2000))

	exp, err := cat.GetCID(ctx, "bafyexp")
	require.NoError(t, err)
	assert.False(t, exp.Present)

	pin, err := cat.GetCID(ctx, "bafypin")
	require.NoError(t, err)
	assert.True(t, pin.Present)
}

func TestReplaceTokens(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.ReplaceTokens(ctx, "bafytok", []types.TokenCount{
		{Token: "alpha", Count: 5},
		{Token: "beta", Count: 5000},
	}))

	tokens, err := cat.TokensForCID(ctx, "bafytok")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "beta", tokens[0].Token)
	assert.Equal(t, 1000, tokens[0].Count, "count clamped")

	// Replacement is total.
	require.NoError(t, cat.ReplaceTokens(ctx, "bafytok", []types.TokenCount{
		{Token: "gamma", Count: 1},
	}))
	tokens, err = cat.TokensForCID(ctx, "bafytok")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "gamma", tokens[0].Token)
}

func TestPathIndex(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	hint := "text/html"
	require.NoError(t, cat.UpsertPath(ctx, types.PathEntry{
		RootCID: "bafyroot", Path: "docs/index.html", LeafCID: "bafyleaf", Depth: 2, MimeHint: &hint,
	}))

	entries, err := cat.ListPathsForRoot(ctx, "bafyroot", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "docs/index.html", entries[0].Path)
	require.NotNil(t, entries[0].MimeHint)
	assert.Equal(t, "text/html", *entries[0].MimeHint)

	path, err := cat.PathForLeaf(ctx, "bafyleaf")
	require.NoError(t, err)
	assert.Equal(t, "docs/index.html", path)

	path, err = cat.PathForLeaf(ctx, "bafyunknown")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestMetricsState(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.RecordPinRefresh(ctx, 42, 5000, 120, true))
	require.NoError(t, cat.AddTypesIndexed(ctx, 7))
	require.NoError(t, cat.AddDirsExpanded(ctx, 3))
	require.NoError(t, cat.AddDirExpandErrors(ctx, 1))
	require.NoError(t, cat.AddRangeIgnored(ctx, 2))

	state, err := cat.GetMetricsState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), state.PinsCurrent)
	assert.Equal(t, int64(5000), state.PinsLastRefreshAt)
	assert.True(t, state.PinsLastRefreshOK)
	assert.Equal(t, int64(7), state.TypesIndexedTotal)
	assert.Equal(t, int64(3), state.DirsExpandedTotal)
	assert.Equal(t, int64(1), state.DirExpandErrorsTotal)
	assert.Equal(t, int64(2), state.RangeIgnoredTotal)
}
