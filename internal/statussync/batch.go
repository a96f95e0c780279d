package statussync

import (
	"context"
	"fmt"
)

// BatchItem is the result for one increment of a batch.
type BatchItem struct {
	IncrementID string   `json:"incrementId"`
	Outcome     *Outcome `json:"outcome,omitempty"`
	Err         error    `json:"-"`
	Error       string   `json:"error,omitempty"`
}

// BatchResult summarizes SyncAll.
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Deferred  int         `json:"deferred"`
}

// Summary renders the tallies on one line.
func (r *BatchResult) Summary() string {
	return fmt.Sprintf("%d synced, %d deferred, %d skipped, %d failed",
		r.Succeeded, r.Deferred, r.Skipped, r.Failed)
}

// SyncAll syncs every increment that has a spec.md, in directory order.
// A failing increment is recorded and the batch continues. The returned
// error is set only when the increments cannot be listed or ctx is done.
func (e *Engine) SyncAll(ctx context.Context, opts Options) (*BatchResult, error) {
	ids, err := e.Increments.List()
	if err != nil {
		return nil, err
	}

	res := &BatchResult{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		item := BatchItem{IncrementID: id}
		out, err := e.Sync(ctx, id, opts)
		switch {
		case err != nil:
			item.Err = err
			item.Error = err.Error()
			res.Failed++
			e.warn(fmt.Sprintf("%s: %v", id, err))
		case out.Action == ActionSkipped:
			res.Skipped++
		case out.Action == ActionDeferred:
			res.Deferred++
		default:
			res.Succeeded++
		}
		item.Outcome = out
		res.Items = append(res.Items, item)
	}
	return res, nil
}
