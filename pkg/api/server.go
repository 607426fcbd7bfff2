package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/pindex/pkg/catalog"
	"github.com/cuemby/pindex/pkg/log"
	"github.com/cuemby/pindex/pkg/metrics"
	"github.com/cuemby/pindex/pkg/types"
)

const (
	childrenLimit = 200
	parentsLimit  = 50
)

// Server is the read-only HTTP surface: row lookup, search, edge listing and
// metrics. All writes happen in the background tasks; the API never mutates.
type Server struct {
	cat  *catalog.Catalog
	http *http.Server
}

// NewServer creates the API server listening on port.
func NewServer(cat *catalog.Catalog, port int) *Server {
	s := &Server{cat: cat}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /metrics/state", s.handleMetricsState)
	mux.HandleFunc("GET /cid/{cid}", s.handleCID)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /children/{cid}", s.handleChildren)
	mux.HandleFunc("GET /parents/{cid}", s.handleParents)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      instrument(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	logger := log.WithComponent("api")
	logger.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the instrumented mux for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMetricsState(w http.ResponseWriter, r *http.Request) {
	state, err := s.cat.GetMetricsState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read metrics state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCID(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	rec, err := s.cat.GetCID(r.Context(), cid)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "cid not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read cid")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// searchResponse is the /search envelope.
type searchResponse struct {
	Items  []*catalog.SearchResult `json:"items"`
	Total  int64                   `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q, err := parseSearchQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := s.cat.Search(r.Context(), q)
	if err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("search failed")
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if items == nil {
		items = []*catalog.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Items:  items,
		Total:  total,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	edges, err := s.cat.ListChildEdges(r.Context(), r.PathValue("cid"), childrenLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list children")
		return
	}
	if edges == nil {
		edges = []*types.Edge{}
	}
	writeJSON(w, http.StatusOK, edgesResponse{Edges: edges})
}

func (s *Server) handleParents(w http.ResponseWriter, r *http.Request) {
	edges, err := s.cat.ListParentEdges(r.Context(), r.PathValue("cid"), parentsLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list parents")
		return
	}
	if edges == nil {
		edges = []*types.Edge{}
	}
	writeJSON(w, http.StatusOK, edgesResponse{Edges: edges})
}

type edgesResponse struct {
	Edges []*types.Edge `json:"edges"`
}

// parseSearchQuery decodes the /search parameters. Tokens come from repeated
// token= params and the free-text q= shorthand. Limit and offset are clamped
// by the catalogue; invalid booleans and numbers are rejected here.
func parseSearchQuery(r *http.Request) (catalog.SearchQuery, error) {
	values := r.URL.Query()
	tokens := queryTokens(values.Get("q"))
	for _, raw := range values["token"] {
		tokens = append(tokens, queryTokens(raw)...)
	}
	q := catalog.SearchQuery{
		Tokens:        tokens,
		Kind:          values.Get("kind"),
		Mime:          values.Get("mime"),
		Source:        values.Get("source"),
		PresentSource: values.Get("present_source"),
		Tag:           values.Get("tag"),
		Limit:         20,
	}

	if raw := values.Get("present"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return q, fmt.Errorf("invalid present value %q", raw)
		}
		q.Present = &v
	}
	if raw := values.Get("is_directory"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return q, fmt.Errorf("invalid is_directory value %q", raw)
		}
		q.IsDirectory = &v
	}
	if raw := values.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("invalid limit value %q", raw)
		}
		q.Limit = v
	}
	if raw := values.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("invalid offset value %q", raw)
		}
		q.Offset = v
	}
	return q, nil
}

// queryTokens folds the free-text query into index tokens: lowercase
// alphanumeric runs of three or more characters.
func queryTokens(q string) []string {
	if q == "" {
		return nil
	}
	var b strings.Builder
	for _, r := range strings.ToLower(q) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	var tokens []string
	for _, f := range strings.Fields(b.String()) {
		if len(f) >= 3 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger := log.WithComponent("api")
		logger.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
