package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/pindex/pkg/catalog"
	"github.com/cuemby/pindex/pkg/log"
	"github.com/cuemby/pindex/pkg/metrics"
	"github.com/cuemby/pindex/pkg/noderpc"
	"github.com/cuemby/pindex/pkg/types"
)

// PinSync reconciles the catalogue's pin roots against the node's recursive
// pin set. New pins are upserted, vanished pins are logically removed; rows
// discovered by expansion are left to the expander's own pruning.
type PinSync struct {
	cat  *catalog.Catalog
	node *noderpc.Client
}

// NewPinSync creates the pin synchronizer task.
func NewPinSync(cat *catalog.Catalog, node *noderpc.Client) *PinSync {
	return &PinSync{cat: cat, node: node}
}

func (p *PinSync) Name() string { return "pin_sync" }

// Run performs one reconciliation pass. The refresh outcome is recorded on
// both success and failure so /metrics/state always reflects the last attempt.
func (p *PinSync) Run(ctx context.Context) error {
	start := time.Now()
	logger := log.WithTask(p.Name())

	pins, err := p.node.ListPins(ctx)
	if err != nil {
		p.record(ctx, -1, start, false)
		return fmt.Errorf("failed to refresh pin set: %w", err)
	}

	var added, removed int
	err = p.cat.WithTx(ctx, func(ctx context.Context) error {
		existing, err := p.cat.ListPresentPinRoots(ctx)
		if err != nil {
			return fmt.Errorf("failed to list pin roots: %w", err)
		}
		known := make(map[string]struct{}, len(existing))
		for _, cid := range existing {
			known[cid] = struct{}{}
		}

		now := time.Now().UnixMilli()
		for cid := range pins {
			if _, ok := known[cid]; !ok {
				added++
			}
			if err := p.cat.UpsertPinRoot(ctx, cid, now); err != nil {
				return fmt.Errorf("failed to upsert pin root %s: %w", cid, err)
			}
		}
		for _, cid := range existing {
			if _, ok := pins[cid]; ok {
				continue
			}
			if err := p.cat.MarkRemoved(ctx, cid, now); err != nil {
				return fmt.Errorf("failed to remove pin root %s: %w", cid, err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		p.record(ctx, -1, start, false)
		return err
	}

	p.record(ctx, int64(len(pins)), start, true)
	logger.Info().
		Int("pins", len(pins)).
		Int("added", added).
		Int("removed", removed).
		Dur("elapsed", time.Since(start)).
		Msg("pin set reconciled")
	return nil
}

// record updates the Prometheus gauges and the metrics singleton row.
// pinsCurrent < 0 means "unknown": the previous count is preserved.
func (p *PinSync) record(ctx context.Context, pinsCurrent int64, start time.Time, ok bool) {
	now := time.Now().UnixMilli()
	elapsed := time.Since(start).Milliseconds()

	if pinsCurrent < 0 {
		if n, err := p.cat.CountPresent(ctx, types.PresentSourcePinRoot); err == nil {
			pinsCurrent = n
		} else {
			pinsCurrent = 0
		}
	}

	metrics.PinsCurrent.Set(float64(pinsCurrent))
	metrics.PinRefreshTimestampMs.Set(float64(now))
	metrics.PinRefreshDurationMs.Set(float64(elapsed))
	if ok {
		metrics.PinRefreshSuccess.Set(1)
	} else {
		metrics.PinRefreshSuccess.Set(0)
	}

	if err := p.cat.RecordPinRefresh(ctx, pinsCurrent, now, elapsed, ok); err != nil {
		logger := log.WithTask(p.Name())
		logger.Warn().Err(err).Msg("failed to persist refresh state")
	}
}
