package catalog

import (
	"context"

	"github.com/cuemby/pindex/pkg/types"
)

// ReplaceTokens rebuilds the inverted index for one CID: delete everything,
// then insert the provided rows. Runs in one scoped transaction so search
// never observes a half-built index for the CID.
func (c *Catalog) ReplaceTokens(ctx context.Context, cid string, tokens []types.TokenCount) error {
	return c.WithTx(ctx, func(ctx context.Context) error {
		if err := c.exec(ctx, `DELETE FROM cid_tokens WHERE cid = ?`, cid); err != nil {
			return err
		}
		for _, t := range tokens {
			count := t.Count
			if count > 1000 {
				count = 1000
			}
			if err := c.exec(ctx,
				`INSERT INTO cid_tokens (token, cid, count) VALUES (?, ?, ?)`,
				t.Token, cid, count); err != nil {
				return err
			}
		}
		return nil
	})
}

// TokensForCID returns the indexed tokens for one CID ordered by
// (count desc, token asc).
func (c *Catalog) TokensForCID(ctx context.Context, cid string) ([]types.TokenCount, error) {
	rows, err := c.reader(ctx).QueryContext(ctx, `
		SELECT token, cid, count FROM cid_tokens WHERE cid = ?
		ORDER BY count DESC, token ASC`, cid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []types.TokenCount
	for rows.Next() {
		var t types.TokenCount
		if err := rows.Scan(&t.Token, &t.CID, &t.Count); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
