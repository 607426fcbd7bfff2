package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/pindex/pkg/log"
)

// cidColumns is the authoritative column set of the cids table. Migration
// additively adds any column missing from an older catalogue.
var cidColumns = []struct {
	name string
	ddl  string
}{
	{"present", "INTEGER NOT NULL DEFAULT 0"},
	{"present_source", "TEXT"},
	{"present_reason", "TEXT"},
	{"first_seen_at", "INTEGER NOT NULL DEFAULT 0"},
	{"last_seen_at", "INTEGER NOT NULL DEFAULT 0"},
	{"removed_at", "INTEGER"},
	{"size_bytes", "INTEGER"},
	{"mime", "TEXT"},
	{"ext_guess", "TEXT"},
	{"kind", "TEXT"},
	{"confidence", "REAL NOT NULL DEFAULT 0"},
	{"source", "TEXT"},
	{"signals_json", "TEXT"},
	{"tags_json", "TEXT"},
	{"detector_version", "TEXT"},
	{"indexed_at", "INTEGER NOT NULL DEFAULT 0"},
	{"error", "TEXT"},
	{"updated_at", "INTEGER NOT NULL DEFAULT 0"},
	{"is_directory", "INTEGER NOT NULL DEFAULT 0"},
	{"expanded_at", "INTEGER"},
	{"expand_error", "TEXT"},
	{"expand_depth", "INTEGER NOT NULL DEFAULT 0"},
	{"site_entry_path", "TEXT"},
	{"site_entry_cid", "TEXT"},
	{"site_entry_indexed_at", "INTEGER"},
}

var metricsColumns = []struct {
	name string
	ddl  string
}{
	{"pins_current", "INTEGER NOT NULL DEFAULT 0"},
	{"pins_last_refresh_at", "INTEGER NOT NULL DEFAULT 0"},
	{"pins_last_refresh_ms", "INTEGER NOT NULL DEFAULT 0"},
	{"pins_last_refresh_ok", "INTEGER NOT NULL DEFAULT 0"},
	{"types_indexed_total", "INTEGER NOT NULL DEFAULT 0"},
	{"dirs_expanded_total", "INTEGER NOT NULL DEFAULT 0"},
	{"dir_expand_errors_total", "INTEGER NOT NULL DEFAULT 0"},
	{"range_ignored_total", "INTEGER NOT NULL DEFAULT 0"},
}

var auxiliarySchema = []string{
	`CREATE TABLE IF NOT EXISTS cid_edges (
		parent_cid TEXT NOT NULL,
		child_cid TEXT NOT NULL,
		first_seen_at INTEGER NOT NULL DEFAULT 0,
		last_seen_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (parent_cid, child_cid)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cid_edges_child ON cid_edges(child_cid)`,
	`CREATE TABLE IF NOT EXISTS cid_paths (
		root_cid TEXT NOT NULL,
		path TEXT NOT NULL,
		leaf_cid TEXT NOT NULL,
		depth INTEGER NOT NULL DEFAULT 0,
		mime_hint TEXT,
		PRIMARY KEY (root_cid, path)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cid_paths_leaf ON cid_paths(leaf_cid)`,
	`CREATE TABLE IF NOT EXISTS cid_tokens (
		token TEXT NOT NULL,
		cid TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (token, cid)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cid_tokens_cid ON cid_tokens(cid)`,
	`CREATE INDEX IF NOT EXISTS idx_cids_present ON cids(present)`,
	`CREATE INDEX IF NOT EXISTS idx_cids_last_seen ON cids(last_seen_at)`,
	`CREATE INDEX IF NOT EXISTS idx_cids_kind ON cids(kind)`,
	`CREATE INDEX IF NOT EXISTS idx_cids_mime ON cids(mime)`,
}

// Migrate brings the schema up to date. Every step is attempted even when an
// earlier one fails: a partially-initialized catalogue still serves reads,
// which beats failing the whole process.
func (c *Catalog) Migrate(ctx context.Context) error {
	logger := log.WithComponent("catalog")
	var firstErr error
	record := func(step string, err error) {
		if err == nil {
			return
		}
		logger.Error().Err(err).Str("step", step).Msg("migration step failed")
		if firstErr == nil {
			firstErr = fmt.Errorf("migration step %s: %w", step, err)
		}
	}

	record("create_cids", c.exec(ctx, `CREATE TABLE IF NOT EXISTS cids (cid TEXT PRIMARY KEY)`))
	record("create_metrics", c.exec(ctx, `CREATE TABLE IF NOT EXISTS metrics (id INTEGER PRIMARY KEY CHECK (id = 1))`))

	record("cids_columns", c.addMissingColumns(ctx, "cids", cidColumns))
	record("metrics_columns", c.addMissingColumns(ctx, "metrics", metricsColumns))

	for i, stmt := range auxiliarySchema {
		record(fmt.Sprintf("auxiliary_%d", i), c.exec(ctx, stmt))
	}

	record("metrics_singleton", c.exec(ctx, `INSERT OR IGNORE INTO metrics (id) VALUES (1)`))

	record("repair_presence", c.repairPresence(ctx))
	record("prune_tokens", c.pruneInvalidTokens(ctx))

	return firstErr
}

// addMissingColumns diffs PRAGMA table_info against the wanted column set
// and ALTERs in whatever is missing.
func (c *Catalog) addMissingColumns(ctx context.Context, table string, columns []struct{ name, ddl string }) error {
	existing, err := c.tableColumns(ctx, table)
	if err != nil {
		return err
	}
	logger := log.WithComponent("catalog")
	for _, col := range columns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.name, col.ddl)
		if err := c.exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", table, col.name, err)
		}
		logger.Info().Str("table", table).Str("column", col.name).Msg("added column")
	}
	return nil
}

func (c *Catalog) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := c.reader(ctx).QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// repairPresence restores invariant: present = 1 iff removed_at IS NULL.
func (c *Catalog) repairPresence(ctx context.Context) error {
	now := time.Now().UnixMilli()
	if err := c.exec(ctx, `UPDATE cids SET removed_at = NULL WHERE present = 1 AND removed_at IS NOT NULL`); err != nil {
		return err
	}
	return c.exec(ctx, `UPDATE cids SET removed_at = ? WHERE present = 0 AND removed_at IS NULL`, now)
}

// pruneInvalidTokens drops index rows that violate the token contract:
// length >= 3, [a-z0-9]+ only, count capped at 1000.
func (c *Catalog) pruneInvalidTokens(ctx context.Context) error {
	if err := c.exec(ctx, `DELETE FROM cid_tokens WHERE length(token) < 3 OR token GLOB '*[^a-z0-9]*' OR count <= 0`); err != nil {
		return err
	}
	return c.exec(ctx, `UPDATE cid_tokens SET count = 1000 WHERE count > 1000`)
}
