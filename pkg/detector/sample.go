package detector

import (
	"context"

	"github.com/cuemby/pindex/pkg/types"
)

// collectSample requests up to three byte windows: head [0, S-1], tail
// [size-S, size-1] when size > S, and mid [size/2 - S/2, …] when size > 2S.
// Sampling stops once cumulative bytes reach MaxTotalBytes. A gateway that
// ignores the range request (200 without Content-Range) downgrades the whole
// run to a single capped read.
func (d *Detector) collectSample(ctx context.Context, cid string, size int64) (*types.Sample, error) {
	s := d.cfg.SampleBytes
	sample := &types.Sample{TotalLength: -1}

	resp, err := d.gw.FetchRange(ctx, cid, 0, s-1)
	if err != nil {
		return nil, err
	}
	if resp.TotalLength >= 0 {
		sample.TotalLength = resp.TotalLength
	}

	if resp.Status == 200 && !resp.HasContentRange {
		// Range ignored: one capped read is all we take.
		sample.RangeIgnored = true
		body, err := resp.ReadBodyLimited(d.cfg.MaxTotalBytes)
		if err != nil {
			return nil, err
		}
		sample.Head = body
		sample.BytesRead = len(body)
		return sample, nil
	}

	head, err := resp.ReadBodyLimited(s)
	if err != nil {
		return nil, err
	}
	sample.Head = head
	sample.BytesRead = len(head)

	if size < 0 && sample.TotalLength >= 0 {
		size = sample.TotalLength
	}

	// Tail window.
	if size > s && int64(sample.BytesRead) < d.cfg.MaxTotalBytes {
		if resp, err := d.gw.FetchRange(ctx, cid, size-s, size-1); err == nil {
			if tail, err := resp.ReadBodyLimited(s); err == nil {
				sample.Tail = tail
				sample.BytesRead += len(tail)
			}
		}
	}

	// Mid window.
	if size > 2*s && int64(sample.BytesRead) < d.cfg.MaxTotalBytes {
		from := size/2 - s/2
		if resp, err := d.gw.FetchRange(ctx, cid, from, from+s-1); err == nil {
			if mid, err := resp.ReadBodyLimited(s); err == nil {
				sample.Mid = mid
				sample.BytesRead += len(mid)
			}
		}
	}

	return sample, nil
}
