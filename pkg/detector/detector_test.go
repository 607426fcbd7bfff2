package detector

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pindex/pkg/gateway"
	"github.com/cuemby/pindex/pkg/types"
)

// fakeGateway serves fixed content per CID, honoring range requests unless
// ignoreRanges is set.
type fakeGateway struct {
	objects      map[string][]byte
	contentTypes map[string]string
	ignoreRanges bool
}

func (f *fakeGateway) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := strings.TrimPrefix(r.URL.Path, "/content/")
		body, ok := f.objects[cid]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if ct := f.contentTypes[cid]; ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		if f.ignoreRanges {
			r.Header.Del("Range")
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(body))
	})
}

func newTestDetector(t *testing.T, f *fakeGateway, onRangeIgnored func()) *Detector {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	gw := gateway.NewClient(srv.URL, 5*time.Second, 0)
	return New(gw, Config{SampleBytes: 4096, MaxTotalBytes: 12288}, onRangeIgnored)
}

func TestDetectPDFByMagic(t *testing.T) {
	pdf := append([]byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n"), bytes.Repeat([]byte{'x'}, 512)...)
	f := &fakeGateway{objects: map[string][]byte{"bafypdf": pdf}}
	d := newTestDetector(t, f, nil)

	v, err := d.Detect(context.Background(), "bafypdf", nil)
	require.NoError(t, err)

	assert.Equal(t, "application/pdf", v.Mime)
	assert.Equal(t, types.KindDoc, v.Kind)
	assert.Equal(t, types.SourceMagic, v.Source)
	assert.GreaterOrEqual(t, v.Confidence, 0.95)
	assert.Equal(t, Version, v.DetectorVersion)
	require.NotNil(t, v.Size)
	assert.Equal(t, int64(len(pdf)), *v.Size)
}

func TestDetectHTML(t *testing.T) {
	html := []byte("<!DOCTYPE html><html><head><title>Docs</title></head><body><p>hello</p></body></html>")
	f := &fakeGateway{objects: map[string][]byte{"bafyhtml": html}}
	d := newTestDetector(t, f, nil)

	v, err := d.Detect(context.Background(), "bafyhtml", nil)
	require.NoError(t, err)

	assert.Equal(t, "text/html", v.Mime)
	assert.Equal(t, types.KindHTML, v.Kind)
	require.NotNil(t, v.Sample)
	assert.NotEmpty(t, v.Sample.Head)
}

func TestDetectMediaShortCircuit(t *testing.T) {
	f := &fakeGateway{
		objects:      map[string][]byte{"bafyvid": bytes.Repeat([]byte{0xab}, 2048)},
		contentTypes: map[string]string{"bafyvid": "video/mp4"},
	}
	d := newTestDetector(t, f, nil)

	v, err := d.Detect(context.Background(), "bafyvid", nil)
	require.NoError(t, err)

	assert.Equal(t, "video/mp4", v.Mime)
	assert.Equal(t, types.KindUnknown, v.Kind)
	assert.Equal(t, types.SourceHead, v.Source)
	assert.InDelta(t, 0.7, v.Confidence, 0.001)
	assert.Contains(t, v.Warnings, "excluded_media")
	// Media is never sampled.
	assert.Nil(t, v.Sample)
}

func TestDetectRangeIgnored(t *testing.T) {
	body := []byte(strings.Repeat("plain text content here. ", 100))
	f := &fakeGateway{
		objects:      map[string][]byte{"bafytxt": body},
		ignoreRanges: true,
	}

	var fired int
	d := newTestDetector(t, f, func() { fired++ })

	v, err := d.Detect(context.Background(), "bafytxt", nil)
	require.NoError(t, err)

	require.NotNil(t, v.Signals.HTTP)
	assert.True(t, v.Signals.HTTP.RangeIgnored)
	assert.Equal(t, 1, fired)
	assert.Equal(t, types.KindText, v.Kind)
}

func TestDetectBytesReadBounded(t *testing.T) {
	big := bytes.Repeat([]byte{0x00, 0x01, 0x02, 0x03}, 64*1024)
	f := &fakeGateway{objects: map[string][]byte{"bafybig": big}}
	d := newTestDetector(t, f, nil)

	v, err := d.Detect(context.Background(), "bafybig", nil)
	require.NoError(t, err)

	require.NotNil(t, v.Sample)
	assert.LessOrEqual(t, v.Sample.BytesRead, 12288)
}

func TestDetectFallbackVerdict(t *testing.T) {
	// Pure NUL bytes: magic says octet-stream (low confidence), heuristic
	// rejects, classifier absent. Arbitration keeps the best candidate.
	f := &fakeGateway{objects: map[string][]byte{"bafynul": bytes.Repeat([]byte{0x00}, 256)}}
	d := newTestDetector(t, f, nil)

	v, err := d.Detect(context.Background(), "bafynul", nil)
	require.NoError(t, err)

	assert.Equal(t, "application/octet-stream", v.Mime)
	assert.Equal(t, types.KindUnknown, v.Kind)
	assert.Less(t, v.Confidence, 0.7)
}

func TestHeuristicPDFRescue(t *testing.T) {
	// A PDF fragment with object tokens but no %PDF header.
	body := []byte("1 0 obj << /Filter /FlateDecode /Font 3 0 R >> stream\nBINARYDATA\nendstream endobj xref trailer")
	cand, sig := detectHeuristic(&types.Sample{Head: body, BytesRead: len(body)})

	require.NotNil(t, cand)
	assert.Equal(t, "application/pdf", cand.mime)
	assert.Equal(t, types.KindDoc, cand.kind)
	assert.InDelta(t, 0.75, cand.confidence, 0.001)
	require.NotNil(t, sig)
	assert.Greater(t, sig.PDFScore, 0)
}

func TestHeuristicTextLike(t *testing.T) {
	body := []byte("Just some ordinary readable prose, nothing special about it.\n")
	cand, sig := detectHeuristic(&types.Sample{Head: body, BytesRead: len(body)})

	require.NotNil(t, cand)
	assert.Equal(t, "text/plain", cand.mime)
	require.NotNil(t, sig)
	assert.True(t, sig.TextLike)
	assert.GreaterOrEqual(t, sig.PrintableFrac, 0.8)
}

func TestHeuristicRejectsBinary(t *testing.T) {
	body := append([]byte("text then a NUL "), 0x00)
	cand, sig := detectHeuristic(&types.Sample{Head: body, BytesRead: len(body)})

	assert.Nil(t, cand)
	require.NotNil(t, sig)
	assert.False(t, sig.TextLike)
}

func TestKindForMime(t *testing.T) {
	cases := map[string]types.Kind{
		"image/png":                               types.KindImage,
		"text/html":                               types.KindHTML,
		"text/plain":                              types.KindText,
		"application/pdf":                         types.KindDoc,
		"video/webm":                              types.KindVideo,
		"audio/mpeg":                              types.KindAudio,
		"application/zip":                         types.KindArchive,
		"application/vnd.ipld.car":                types.KindIPLD,
		"application/octet-stream":                types.KindUnknown,
		"application/vnd.android.package-archive": types.KindPackage,
	}
	for mime, want := range cases {
		assert.Equal(t, want, KindForMime(mime), mime)
	}
}
