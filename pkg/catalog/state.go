package catalog

import (
	"context"

	"github.com/cuemby/pindex/pkg/types"
)

// GetMetricsState returns the metrics singleton row.
func (c *Catalog) GetMetricsState(ctx context.Context) (*types.MetricsState, error) {
	var s types.MetricsState
	err := c.reader(ctx).QueryRowContext(ctx, `
		SELECT pins_current, pins_last_refresh_at, pins_last_refresh_ms, pins_last_refresh_ok,
		       types_indexed_total, dirs_expanded_total, dir_expand_errors_total, range_ignored_total
		FROM metrics WHERE id = 1`).Scan(
		&s.PinsCurrent, &s.PinsLastRefreshAt, &s.PinsLastRefreshMs, &s.PinsLastRefreshOK,
		&s.TypesIndexedTotal, &s.DirsExpandedTotal, &s.DirExpandErrorsTotal, &s.RangeIgnoredTotal,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// RecordPinRefresh stores the outcome of a pin-sync iteration. It is written
// on both success and failure paths.
func (c *Catalog) RecordPinRefresh(ctx context.Context, pinsCurrent int64, at, durationMs int64, ok bool) error {
	return c.exec(ctx, `
		UPDATE metrics SET pins_current = ?, pins_last_refresh_at = ?, pins_last_refresh_ms = ?, pins_last_refresh_ok = ?
		WHERE id = 1`,
		pinsCurrent, at, durationMs, boolToInt(ok))
}

// AddTypesIndexed bumps the crawled-row counter.
func (c *Catalog) AddTypesIndexed(ctx context.Context, n int64) error {
	return c.exec(ctx, `UPDATE metrics SET types_indexed_total = types_indexed_total + ? WHERE id = 1`, n)
}

// AddDirsExpanded bumps the expanded-directory counter.
func (c *Catalog) AddDirsExpanded(ctx context.Context, n int64) error {
	return c.exec(ctx, `UPDATE metrics SET dirs_expanded_total = dirs_expanded_total + ? WHERE id = 1`, n)
}

// AddDirExpandErrors bumps the expansion-error counter.
func (c *Catalog) AddDirExpandErrors(ctx context.Context, n int64) error {
	return c.exec(ctx, `UPDATE metrics SET dir_expand_errors_total = dir_expand_errors_total + ? WHERE id = 1`, n)
}

// AddRangeIgnored bumps the range-ignored counter.
func (c *Catalog) AddRangeIgnored(ctx context.Context, n int64) error {
	return c.exec(ctx, `UPDATE metrics SET range_ignored_total = range_ignored_total + ? WHERE id = 1`, n)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
