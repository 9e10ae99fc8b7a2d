package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/nocnoc-data/predize-sync/internal/reconcile"
	"github.com/nocnoc-data/predize-sync/internal/warehouse"
)

// BackfillResult summarizes one reconciliation backfill.
type BackfillResult struct {
	Candidates int
	Matched    int
	Updated    int64
}

// Backfill re-runs order reconciliation for the order rows still missing an
// internal order id and writes resolved ids back. Resolution is
// deterministic, so repeated backfills converge instead of flip-flopping.
func (p *Pipeline) Backfill(ctx context.Context) (*BackfillResult, error) {
	log := zap.L().With(zap.String("job", "backfill"))
	runID, err := p.store.RecordRun(ctx, "backfill")
	if err != nil {
		log.Warn("pipeline: record run failed", zap.Error(err))
	}

	result, err := p.backfill(ctx, log)
	if runID != "" {
		status := warehouse.RunStatusDone
		var rows int64
		if err != nil {
			status = warehouse.RunStatusFailed
		} else {
			rows = result.Updated
		}
		if finishErr := p.store.FinishRun(ctx, runID, status, rows, err); finishErr != nil {
			log.Warn("pipeline: finish run failed", zap.Error(finishErr))
		}
	}
	return result, err
}

func (p *Pipeline) backfill(ctx context.Context, log *zap.Logger) (*BackfillResult, error) {
	var items []reconcile.Item
	if err := p.step(ctx, log, "load unmatched orders", func() (int, error) {
		var err error
		items, err = p.store.UnmatchedOrders(ctx)
		return len(items), err
	}); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		log.Info("pipeline: nothing to backfill")
		return &BackfillResult{}, nil
	}

	var refs, b2wRefs []reconcile.Reference
	if err := p.step(ctx, log, "load references", func() (int, error) {
		var err error
		refs, err = p.store.ReferencesByRawID(ctx, lookupKeys(items))
		if err != nil {
			return 0, err
		}
		for _, it := range items {
			if it.Channel == reconcile.ChannelB2W && it.RawInvoiceID != "" {
				b2wRefs, err = p.store.B2WCandidates(ctx)
				if err != nil {
					return 0, err
				}
				break
			}
		}
		return len(refs) + len(b2wRefs), nil
	}); err != nil {
		return nil, err
	}

	matches := reconcile.Resolve(items, refs, b2wRefs)
	matched := reconcile.Matched(matches)

	var updated int64
	if err := p.step(ctx, log, "write back order ids", func() (int, error) {
		var err error
		updated, err = p.store.UpdateOrders(ctx, matches)
		return int(updated), err
	}); err != nil {
		return nil, err
	}

	log.Info("pipeline: backfill done",
		zap.Int("candidates", len(items)),
		zap.Int("matched", len(matched)),
		zap.Int64("updated", updated),
	)
	return &BackfillResult{
		Candidates: len(items),
		Matched:    len(matched),
		Updated:    updated,
	}, nil
}
