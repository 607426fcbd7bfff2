package catalog

import (
	"context"
	"database/sql"

	"github.com/cuemby/pindex/pkg/types"
)

// UpsertPath inserts or replaces one row of the per-root path index.
func (c *Catalog) UpsertPath(ctx context.Context, entry types.PathEntry) error {
	return c.exec(ctx, `
		INSERT INTO cid_paths (root_cid, path, leaf_cid, depth, mime_hint)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(root_cid, path) DO UPDATE SET
			leaf_cid = excluded.leaf_cid,
			depth = excluded.depth,
			mime_hint = excluded.mime_hint`,
		entry.RootCID, entry.Path, entry.LeafCID, entry.Depth, entry.MimeHint)
}

// PathForLeaf returns one indexed path whose leaf is cid, or "" when the CID
// never appeared in a path index. Used as a filename hint for analysis.
func (c *Catalog) PathForLeaf(ctx context.Context, cid string) (string, error) {
	var path string
	err := c.reader(ctx).QueryRowContext(ctx,
		`SELECT path FROM cid_paths WHERE leaf_cid = ? ORDER BY depth, path LIMIT 1`, cid).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// ListPathsForRoot returns the indexed paths under a pin root.
func (c *Catalog) ListPathsForRoot(ctx context.Context, root string, limit int) ([]*types.PathEntry, error) {
	rows, err := c.reader(ctx).QueryContext(ctx, `
		SELECT root_cid, path, leaf_cid, depth, mime_hint
		FROM cid_paths WHERE root_cid = ?
		ORDER BY path LIMIT ?`, root, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*types.PathEntry
	for rows.Next() {
		var (
			e    types.PathEntry
			hint sql.NullString
		)
		if err := rows.Scan(&e.RootCID, &e.Path, &e.LeafCID, &e.Depth, &hint); err != nil {
			return nil, err
		}
		e.MimeHint = nullStr(hint)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
