package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRangeHonored(t *testing.T) {
	body := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(body))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	resp, err := c.FetchRange(context.Background(), "bafytest", 0, 3)
	require.NoError(t, err)

	assert.Equal(t, http.StatusPartialContent, resp.Status)
	assert.True(t, resp.HasContentRange)
	assert.Equal(t, int64(16), resp.TotalLength)

	data, err := resp.ReadBodyLimited(1024)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123"), data)
}

func TestFetchRangeIgnored(t *testing.T) {
	body := []byte("full body regardless of range")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	resp, err := c.FetchRange(context.Background(), "bafytest", 0, 3)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.False(t, resp.HasContentRange)

	data, err := resp.ReadBodyLimited(1024)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestReadBodyLimitedTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte{'x'}, 10000))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	resp, err := c.Fetch(context.Background(), "bafytest")
	require.NoError(t, err)

	data, err := resp.ReadBodyLimited(100)
	require.NoError(t, err)
	assert.Len(t, data, 100)
}

func TestRetriesOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 3)
	resp, err := c.Fetch(context.Background(), "bafytest")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNoRetryOn404(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 3)
	resp, err := c.Fetch(context.Background(), "bafytest")
	require.NoError(t, err)
	resp.Close()

	// 4xx is returned to the caller, not retried.
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHeadProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Length", "12345")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	resp, err := c.Head(context.Background(), "bafytest")
	require.NoError(t, err)

	assert.Equal(t, "application/pdf", resp.ContentType)
	assert.Equal(t, int64(12345), resp.TotalLength)
}

func TestParseContentRangeTotal(t *testing.T) {
	assert.Equal(t, int64(1000), parseContentRangeTotal("bytes 0-99/1000"))
	assert.Equal(t, int64(-1), parseContentRangeTotal("bytes 0-99/*"))
	assert.Equal(t, int64(-1), parseContentRangeTotal("garbage"))
}
