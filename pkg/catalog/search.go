package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cuemby/pindex/pkg/types"
)

// SearchQuery is the decoded /search request.
type SearchQuery struct {
	Tokens        []string
	Kind          string
	Mime          string
	Present       *bool
	Source        string
	PresentSource string
	IsDirectory   *bool
	Tag           string
	Limit         int
	Offset        int
}

// SearchResult is one search hit: the row plus its token score and, when the
// CID is indexed under a pin root, its min-aggregated path.
type SearchResult struct {
	types.CIDRecord
	Score        int64   `json:"score,omitempty"`
	RootCID      *string `json:"root_cid,omitempty"`
	Path         *string `json:"path,omitempty"`
	PathMimeHint *string `json:"path_mime_hint,omitempty"`
}

// Search runs the token/filter query against the catalogue. Ranking is the
// sum of matched token counts, tiebroken by last_seen_at descending. Rows
// with mime 'application/octet-stream' are excluded by policy.
func (c *Catalog) Search(ctx context.Context, q SearchQuery) ([]*SearchResult, int64, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var (
		joins  []string
		wheres []string
		args   []any
	)

	scoreExpr := "0"
	if len(q.Tokens) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Tokens)), ",")
		joins = append(joins, fmt.Sprintf(`JOIN (
			SELECT cid, SUM(count) AS score FROM cid_tokens
			WHERE token IN (%s) GROUP BY cid
		) tk ON tk.cid = c.cid`, placeholders))
		for _, t := range q.Tokens {
			args = append(args, t)
		}
		scoreExpr = "tk.score"
	}

	// Min-aggregated path per leaf so a CID reachable under several roots
	// still yields one deterministic row.
	joins = append(joins, `LEFT JOIN (
		SELECT leaf_cid, MIN(root_cid) AS root_cid, MIN(path) AS path, MIN(mime_hint) AS mime_hint
		FROM cid_paths GROUP BY leaf_cid
	) p ON p.leaf_cid = c.cid`)

	wheres = append(wheres, `(c.mime IS NULL OR c.mime != 'application/octet-stream')`)

	if q.Kind != "" {
		wheres = append(wheres, "c.kind = ?")
		args = append(args, q.Kind)
	}
	if q.Mime != "" {
		wheres = append(wheres, "c.mime = ?")
		args = append(args, q.Mime)
	}
	if q.Present != nil {
		wheres = append(wheres, "c.present = ?")
		args = append(args, boolToInt(*q.Present))
	}
	if q.Source != "" {
		wheres = append(wheres, "c.source = ?")
		args = append(args, q.Source)
	}
	if q.PresentSource != "" {
		wheres = append(wheres, "c.present_source = ?")
		args = append(args, q.PresentSource)
	}
	if q.IsDirectory != nil {
		wheres = append(wheres, "c.is_directory = ?")
		args = append(args, boolToInt(*q.IsDirectory))
	}
	if q.Tag != "" {
		wheres = append(wheres, `EXISTS (
			SELECT 1 FROM json_each(c.tags_json, '$.tags') WHERE json_each.value = ?
		)`)
		args = append(args, q.Tag)
	}

	base := fmt.Sprintf("FROM cids c %s WHERE %s", strings.Join(joins, " "), strings.Join(wheres, " AND "))

	var total int64
	if err := c.reader(ctx).QueryRowContext(ctx, "SELECT COUNT(*) "+base, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count search results: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s, %s AS score, p.root_cid, p.path, p.mime_hint
		%s
		ORDER BY score DESC, c.last_seen_at DESC
		LIMIT ? OFFSET ?`, prefixColumns("c", cidSelectColumns), scoreExpr, base)
	args = append(args, q.Limit, q.Offset)

	rows, err := c.reader(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to run search: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		res, err := scanSearchResult(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}
	return results, total, rows.Err()
}

func scanSearchResult(rows *sql.Rows) (*SearchResult, error) {
	var (
		res             SearchResult
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
		rootCID         sql.NullString
		path            sql.NullString
		mimeHint        sql.NullString
	)

	err := rows.Scan(
		&res.CID, &res.Present, &presentSource, &presentReason, &res.FirstSeenAt, &res.LastSeenAt,
		&removedAt, &sizeBytes, &mime, &extGuess, &kind, &res.Confidence, &source, &signalsJSON,
		&tagsJSON, &detectorVersion, &res.IndexedAt, &errMsg, &res.UpdatedAt, &res.IsDirectory,
		&expandedAt, &expandError, &res.ExpandDepth, &sitePath, &siteCID, &siteIndexedAt,
		&res.Score, &rootCID, &path, &mimeHint,
	)
	if err != nil {
		return nil, err
	}

	res.PresentSource = types.PresentSource(presentSource.String)
	res.PresentReason = presentReason.String
	res.Kind = types.Kind(kind.String)
	res.Source = types.DetectionSource(source.String)
	res.DetectorVersion = detectorVersion.String
	res.RemovedAt = nullInt(removedAt)
	res.SizeBytes = nullInt(sizeBytes)
	res.Mime = nullStr(mime)
	res.ExtGuess = nullStr(extGuess)
	res.SignalsJSON = nullStr(signalsJSON)
	res.TagsJSON = nullStr(tagsJSON)
	res.Error = nullStr(errMsg)
	res.ExpandedAt = nullInt(expandedAt)
	res.ExpandError = nullStr(expandError)
	res.SiteEntryPath = nullStr(sitePath)
	res.SiteEntryCID = nullStr(siteCID)
	res.SiteEntryIndexedAt = nullInt(siteIndexedAt)
	res.RootCID = nullStr(rootCID)
	res.Path = nullStr(path)
	res.PathMimeHint = nullStr(mimeHint)
	return &res, nil
}

// prefixColumns qualifies each column in list with alias.
func prefixColumns(alias, list string) string {
	parts := strings.Split(list, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
