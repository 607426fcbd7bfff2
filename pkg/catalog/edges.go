package catalog

import (
	"context"

	"github.com/cuemby/pindex/pkg/types"
)

// UpsertEdge records a parent→child link. first_seen_at merges by MIN and
// last_seen_at by MAX, so edge insertion is commutative.
func (c *Catalog) UpsertEdge(ctx context.Context, parent, child string, now int64) error {
	return c.exec(ctx, `
		INSERT INTO cid_edges (parent_cid, child_cid, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(parent_cid, child_cid) DO UPDATE SET
			first_seen_at = MIN(cid_edges.first_seen_at, excluded.first_seen_at),
			last_seen_at = MAX(cid_edges.last_seen_at, excluded.last_seen_at)`,
		parent, child, now, now)
}

// DeleteEdge removes one parent→child link.
func (c *Catalog) DeleteEdge(ctx context.Context, parent, child string) error {
	return c.exec(ctx, `DELETE FROM cid_edges WHERE parent_cid = ? AND child_cid = ?`, parent, child)
}

// ListChildEdges returns the current children of parent, capped at limit.
func (c *Catalog) ListChildEdges(ctx context.Context, parent string, limit int) ([]*types.Edge, error) {
	rows, err := c.reader(ctx).QueryContext(ctx, `
		SELECT parent_cid, child_cid, first_seen_at, last_seen_at
		FROM cid_edges WHERE parent_cid = ?
		ORDER BY child_cid LIMIT ?`, parent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEdges(rows)
}

// ListParentEdges returns the parents of child, capped at limit.
func (c *Catalog) ListParentEdges(ctx context.Context, child string, limit int) ([]*types.Edge, error) {
	rows, err := c.reader(ctx).QueryContext(ctx, `
		SELECT parent_cid, child_cid, first_seen_at, last_seen_at
		FROM cid_edges WHERE child_cid = ?
		ORDER BY parent_cid LIMIT ?`, child, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEdges(rows)
}

// CountEdgesForChild returns how many parents still reference child.
func (c *Catalog) CountEdgesForChild(ctx context.Context, child string) (int64, error) {
	var n int64
	err := c.reader(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cid_edges WHERE child_cid = ?`, child).Scan(&n)
	return n, err
}

// DemoteOrphan marks child absent iff it was discovered by expansion. Pin
// roots are never demoted by edge pruning.
func (c *Catalog) DemoteOrphan(ctx context.Context, child string, now int64) error {
	return c.exec(ctx, `
		UPDATE cids SET present = 0, removed_at = ?, updated_at = ?
		WHERE cid = ? AND present_source = ? AND present = 1`,
		now, now, child, string(types.PresentSourceExpanded))
}

func collectEdges(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*types.Edge, error) {
	var edges []*types.Edge
	for rows.Next() {
		var e types.Edge
		if err := rows.Scan(&e.ParentCID, &e.ChildCID, &e.FirstSeenAt, &e.LastSeenAt); err != nil {
			return nil, err
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}
