/*
Package catalog provides the SQLite-backed catalogue shared by every pindex
component.

The catalogue holds one row per CID plus three auxiliary tables: the
parent/child edge set, the per-root path index and the inverted token index.
A singleton metrics row mirrors the operational counters so /metrics/state
can serve them without scraping Prometheus.

# Architecture

All writes are serialized through a single writer goroutine; reads go
straight to the connection pool unless a scoped transaction is active:

	┌───────────────────── CATALOG ─────────────────────────┐
	│                                                         │
	│  exec() ──────┐                                         │
	│               ▼                                         │
	│  ┌─────────────────────────┐    ┌───────────────────┐  │
	│  │   FIFO write queue      │    │   reads           │  │
	│  │   (chan writeOp)        │    │   QueryContext on │  │
	│  └───────────┬─────────────┘    │   the pool        │  │
	│              ▼                  └───────────────────┘  │
	│  ┌─────────────────────────┐                            │
	│  │   writer goroutine      │                            │
	│  │   one op at a time,     │                            │
	│  │   panic-isolated        │                            │
	│  └───────────┬─────────────┘                            │
	│              ▼                                           │
	│  ┌─────────────────────────┐                            │
	│  │   SQLite (WAL mode)     │                            │
	│  │   busy_timeout applied  │                            │
	│  └─────────────────────────┘                            │
	└─────────────────────────────────────────────────────────┘

WithTx runs a function inside one SQL transaction on the writer goroutine.
The transaction travels in the context: nested WithTx calls join the
outermost transaction, and exec/reader pick it up transparently. Rollback
happens on error or panic, commit otherwise.

# Tables

cids:
  - One row per observed CID
  - Presence lifecycle: present, present_source, removed_at
  - Detection results: mime, kind, confidence, source, signals_json
  - Tags artifact: tags_json
  - Directory lifecycle: is_directory, expanded_at, expand_error, expand_depth
  - Site fields: site_entry_path, site_entry_cid, site_entry_indexed_at

cid_edges:
  - parent_cid → child_cid links with first/last seen timestamps

cid_paths:
  - (root_cid, path) → leaf_cid with a depth and extension-derived mime hint

cid_tokens:
  - (token, cid) → count inverted index backing /search

metrics:
  - Singleton row (id = 1) of operational counters

# Invariants

The schema migration is additive: missing columns are diffed via PRAGMA
table_info and ALTERed in. Migrate also repairs two invariants on startup:
present = 1 iff removed_at IS NULL, and every indexed token is a lowercase
alphanumeric string of three or more characters with a count in [1, 1000].

# Usage

	cat, err := catalog.Open("pindex.db", 5*time.Second)
	if err != nil { ... }
	defer cat.Close()

	if err := cat.Migrate(ctx); err != nil {
		// partially-migrated catalogues still serve reads
	}

	err = cat.WithTx(ctx, func(ctx context.Context) error {
		if err := cat.UpsertPinRoot(ctx, cid, now); err != nil {
			return err
		}
		return cat.UpsertEdge(ctx, parent, cid, now)
	})
*/
package catalog
