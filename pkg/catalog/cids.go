package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/pindex/pkg/types"
)

const cidSelectColumns = `cid, present, present_source, present_reason, first_seen_at, last_seen_at,
	removed_at, size_bytes, mime, ext_guess, kind, confidence, source, signals_json, tags_json,
	detector_version, indexed_at, error, updated_at, is_directory, expanded_at, expand_error,
	expand_depth, site_entry_path, site_entry_cid, site_entry_indexed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCID(row rowScanner) (*types.CIDRecord, error) {
	var (
		rec             types.CIDRecord
		presentSource   sql.NullString
		presentReason   sql.NullString
		removedAt       sql.NullInt64
		sizeBytes       sql.NullInt64
		mime            sql.NullString
		extGuess        sql.NullString
		kind            sql.NullString
		source          sql.NullString
		signalsJSON     sql.NullString
		tagsJSON        sql.NullString
		detectorVersion sql.NullString
		errMsg          sql.NullString
		expandedAt      sql.NullInt64
		expandError     sql.NullString
		sitePath        sql.NullString
		siteCID         sql.NullString
		siteIndexedAt   sql.NullInt64
	)

	err := row.Scan(
		&rec.CID, &rec.Present, &presentSource, &presentReason, &rec.FirstSeenAt, &rec.LastSeenAt,
		&removedAt, &sizeBytes, &mime, &extGuess, &kind, &rec.Confidence, &source, &signalsJSON,
		&tagsJSON, &detectorVersion, &rec.IndexedAt, &errMsg, &rec.UpdatedAt, &rec.IsDirectory,
		&expandedAt, &expandError, &rec.ExpandDepth, &sitePath, &siteCID, &siteIndexedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.PresentSource = types.PresentSource(presentSource.String)
	rec.PresentReason = presentReason.String
	rec.Kind = types.Kind(kind.String)
	rec.Source = types.DetectionSource(source.String)
	rec.DetectorVersion = detectorVersion.String
	rec.RemovedAt = nullInt(removedAt)
	rec.SizeBytes = nullInt(sizeBytes)
	rec.Mime = nullStr(mime)
	rec.ExtGuess = nullStr(extGuess)
	rec.SignalsJSON = nullStr(signalsJSON)
	rec.TagsJSON = nullStr(tagsJSON)
	rec.Error = nullStr(errMsg)
	rec.ExpandedAt = nullInt(expandedAt)
	rec.ExpandError = nullStr(expandError)
	rec.SiteEntryPath = nullStr(sitePath)
	rec.SiteEntryCID = nullStr(siteCID)
	rec.SiteEntryIndexedAt = nullInt(siteIndexedAt)
	return &rec, nil
}

func nullStr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// GetCID returns the full row for cid, or ErrNotFound.
func (c *Catalog) GetCID(ctx context.Context, cid string) (*types.CIDRecord, error) {
	row := c.reader(ctx).QueryRowContext(ctx,
		`SELECT `+cidSelectColumns+` FROM cids WHERE cid = ?`, cid)
	return scanCID(row)
}

// ListPresentPinRoots returns the CIDs currently present as pin roots.
func (c *Catalog) ListPresentPinRoots(ctx context.Context) ([]string, error) {
	rows, err := c.reader(ctx).QueryContext(ctx,
		`SELECT cid FROM cids WHERE present = 1 AND present_source = ?`, string(types.PresentSourcePinRoot))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cids []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, err
		}
		cids = append(cids, cid)
	}
	return cids, rows.Err()
}

// UpsertPinRoot inserts or refreshes a pin root observed in the node's pin
// set. Existing rows are forced present with pin-root provenance and a
// cleared removed_at; expand_depth is reset to 0 (invariant: pin roots sit
// at depth 0).
func (c *Catalog) UpsertPinRoot(ctx context.Context, cid string, now int64) error {
	return c.exec(ctx, `
		INSERT INTO cids (cid, present, present_source, present_reason, first_seen_at, last_seen_at, expand_depth, updated_at)
		VALUES (?, 1, ?, 'pin_sync', ?, ?, 0, ?)
		ON CONFLICT(cid) DO UPDATE SET
			present = 1,
			present_source = excluded.present_source,
			present_reason = excluded.present_reason,
			last_seen_at = excluded.last_seen_at,
			removed_at = NULL,
			expand_depth = 0,
			updated_at = excluded.updated_at`,
		cid, string(types.PresentSourcePinRoot), now, now, now)
}

// MarkRemoved logically removes a row: present = 0, removed_at = now.
func (c *Catalog) MarkRemoved(ctx context.Context, cid string, now int64) error {
	return c.exec(ctx,
		`UPDATE cids SET present = 0, removed_at = ?, updated_at = ? WHERE cid = ?`,
		now, now, cid)
}

// UpsertExpandedChild inserts or refreshes a CID discovered by the directory
// expander. A row already owned by pin-sync keeps its pin-root provenance
// and depth 0: present_source is monotonic toward pin-root.
func (c *Catalog) UpsertExpandedChild(ctx context.Context, cid string, parentDepth int, now int64) error {
	depth := parentDepth + 1
	return c.exec(ctx, `
		INSERT INTO cids (cid, present, present_source, present_reason, first_seen_at, last_seen_at, expand_depth, updated_at)
		VALUES (?, 1, ?, 'dir_expander', ?, ?, ?, ?)
		ON CONFLICT(cid) DO UPDATE SET
			present = 1,
			present_source = CASE WHEN cids.present_source = 'pin-root' THEN cids.present_source ELSE excluded.present_source END,
			present_reason = CASE WHEN cids.present_source = 'pin-root' THEN cids.present_reason ELSE excluded.present_reason END,
			last_seen_at = excluded.last_seen_at,
			removed_at = NULL,
			expand_depth = CASE WHEN cids.present_source = 'pin-root' THEN 0 ELSE MIN(cids.expand_depth, excluded.expand_depth) END,
			updated_at = excluded.updated_at`,
		cid, string(types.PresentSourceExpanded), now, now, depth, now)
}

// DetectionUpdate carries everything the type crawler persists for one CID.
type DetectionUpdate struct {
	CID             string
	SizeBytes       *int64
	Mime            string
	ExtGuess        string
	Kind            types.Kind
	Confidence      float64
	Source          types.DetectionSource
	SignalsJSON     string
	TagsJSON        string
	DetectorVersion string
	IndexedAt       int64
}

// UpdateDetection persists a successful detection run and clears error.
func (c *Catalog) UpdateDetection(ctx context.Context, u DetectionUpdate) error {
	return c.exec(ctx, `
		UPDATE cids SET
			size_bytes = COALESCE(?, size_bytes),
			mime = ?,
			ext_guess = ?,
			kind = ?,
			confidence = ?,
			source = ?,
			signals_json = ?,
			tags_json = ?,
			detector_version = ?,
			indexed_at = ?,
			error = NULL,
			updated_at = ?
		WHERE cid = ?`,
		u.SizeBytes, u.Mime, u.ExtGuess, string(u.Kind), u.Confidence, string(u.Source),
		u.SignalsJSON, u.TagsJSON, u.DetectorVersion, u.IndexedAt, u.IndexedAt, u.CID)
}

// SetDetectionError records a failed detection. detector_version is still
// advanced so the row is not retried on the same version.
func (c *Catalog) SetDetectionError(ctx context.Context, cid, msg, detectorVersion string, now int64) error {
	return c.exec(ctx, `
		UPDATE cids SET error = ?, detector_version = ?, indexed_at = ?, updated_at = ? WHERE cid = ?`,
		truncate(msg, 240), detectorVersion, now, now, cid)
}

// SelectDetectionCandidates returns present rows that need (re-)detection:
// never detected, detected under a different detector version, or carrying a
// previous error. Directories already classified as structural kinds are
// skipped.
func (c *Catalog) SelectDetectionCandidates(ctx context.Context, detectorVersion string, limit int) ([]*types.CIDRecord, error) {
	rows, err := c.reader(ctx).QueryContext(ctx, `
		SELECT `+cidSelectColumns+` FROM cids
		WHERE present = 1
		  AND (mime IS NULL OR detector_version IS NULL OR detector_version != ? OR error IS NOT NULL)
		  AND NOT (is_directory = 1 AND (kind IS NULL OR kind IN ('', 'unknown', 'ipld', 'dag')))
		ORDER BY last_seen_at DESC
		LIMIT ?`, detectorVersion, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCIDs(rows)
}

// SelectExpandCandidates returns present rows eligible for directory
// expansion: under the depth ceiling and either never expanded, stale past
// ttl, previously errored, or pin roots not yet probed as directories.
func (c *Catalog) SelectExpandCandidates(ctx context.Context, maxDepth int, ttl time.Duration, limit int, now int64) ([]*types.CIDRecord, error) {
	staleBefore := now - ttl.Milliseconds()
	rows, err := c.reader(ctx).QueryContext(ctx, `
		SELECT `+cidSelectColumns+` FROM cids
		WHERE present = 1
		  AND expand_depth < ?
		  AND (
			expanded_at IS NULL
			OR expanded_at < ?
			OR expand_error IS NOT NULL
			OR (is_directory = 0 AND present_source = 'pin-root')
		  )
		ORDER BY last_seen_at DESC
		LIMIT ?`, maxDepth, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCIDs(rows)
}

func collectCIDs(rows *sql.Rows) ([]*types.CIDRecord, error) {
	var recs []*types.CIDRecord
	for rows.Next() {
		rec, err := scanCID(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// MarkNotDirectory records that a row failed the directory heuristic.
func (c *Catalog) MarkNotDirectory(ctx context.Context, cid string, now int64) error {
	return c.exec(ctx,
		`UPDATE cids SET is_directory = 0, expanded_at = ?, expand_error = NULL, updated_at = ? WHERE cid = ?`,
		now, now, cid)
}

// MarkDirectoryExpanded records a completed expansion. expandErr carries the
// truncation marker ("too_many_children:<n>") when the listing was capped.
func (c *Catalog) MarkDirectoryExpanded(ctx context.Context, cid string, expandErr *string, now int64) error {
	return c.exec(ctx,
		`UPDATE cids SET is_directory = 1, expanded_at = ?, expand_error = ?, updated_at = ? WHERE cid = ?`,
		now, expandErr, now, cid)
}

// SetExpandError records a failed listing and clears expanded_at so the row
// stays eligible for the next sweep.
func (c *Catalog) SetExpandError(ctx context.Context, cid, msg string, now int64) error {
	return c.exec(ctx,
		`UPDATE cids SET expand_error = ?, expanded_at = NULL, updated_at = ? WHERE cid = ?`,
		truncate(msg, 240), now, cid)
}

// UpdateTagsJSON replaces the row's tags_json artifact.
func (c *Catalog) UpdateTagsJSON(ctx context.Context, cid, tagsJSON string, now int64) error {
	return c.exec(ctx,
		`UPDATE cids SET tags_json = ?, updated_at = ? WHERE cid = ?`,
		tagsJSON, now, cid)
}

// SetSiteEntry persists the selected site entrypoint for a pin-root directory.
func (c *Catalog) SetSiteEntry(ctx context.Context, root, entryPath, entryCID string, now int64) error {
	return c.exec(ctx, `
		UPDATE cids SET site_entry_path = ?, site_entry_cid = ?, site_entry_indexed_at = ?, updated_at = ?
		WHERE cid = ?`,
		entryPath, entryCID, now, now, root)
}

// CountPresent returns the number of present rows, optionally restricted to
// one provenance.
func (c *Catalog) CountPresent(ctx context.Context, source types.PresentSource) (int64, error) {
	var n int64
	var err error
	if source == "" {
		err = c.reader(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM cids WHERE present = 1`).Scan(&n)
	} else {
		err = c.reader(ctx).QueryRowContext(ctx,
			`SELECT COUNT(*) FROM cids WHERE present = 1 AND present_source = ?`, string(source)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count present rows: %w", err)
	}
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
