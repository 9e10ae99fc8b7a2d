package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/nocnoc-data/predize-sync/internal/fanout"
	"github.com/nocnoc-data/predize-sync/internal/ticket"
	"github.com/nocnoc-data/predize-sync/internal/warehouse"
)

// IngestResult summarizes one ingest run.
type IngestResult struct {
	Tickets  int64
	Messages int64
	Orders   int64
}

// Ingest fetches every ticket in the lookback window together with its
// messages and orders and upserts them into predize_info. Re-running over
// an overlapping window is safe: everything is keyed by the helpdesk ids.
func (p *Pipeline) Ingest(ctx context.Context) (*IngestResult, error) {
	log := zap.L().With(zap.String("job", "ingest"))
	runID, err := p.store.RecordRun(ctx, "ingest")
	if err != nil {
		log.Warn("pipeline: record run failed", zap.Error(err))
	}

	result, err := p.ingest(ctx, log)
	if runID != "" {
		status := warehouse.RunStatusDone
		var rows int64
		if err != nil {
			status = warehouse.RunStatusFailed
		} else {
			rows = result.Tickets + result.Messages + result.Orders
		}
		if finishErr := p.store.FinishRun(ctx, runID, status, rows, err); finishErr != nil {
			log.Warn("pipeline: finish run failed", zap.Error(finishErr))
		}
	}
	return result, err
}

func (p *Pipeline) ingest(ctx context.Context, log *zap.Logger) (*IngestResult, error) {
	var tickets []ticket.Ticket
	if err := p.step(ctx, log, "fetch tickets", func() (int, error) {
		var err error
		tickets, err = p.fetchTickets(ctx)
		return len(tickets), err
	}); err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		log.Info("pipeline: no tickets in lookback window, done")
		return &IngestResult{}, nil
	}

	var messages []ticket.Message
	if err := p.step(ctx, log, "fetch messages", func() (int, error) {
		messages = p.fetchAllMessages(ctx, tickets)
		return len(messages), nil
	}); err != nil {
		return nil, err
	}

	var orders []ticket.Order
	if err := p.step(ctx, log, "fetch orders", func() (int, error) {
		orders = p.fetchAllOrders(ctx, tickets)
		return len(orders), nil
	}); err != nil {
		return nil, err
	}

	result := &IngestResult{}
	if err := p.step(ctx, log, "upsert tickets", func() (int, error) {
		var err error
		result.Tickets, err = p.store.UpsertTickets(ctx, tickets)
		return int(result.Tickets), err
	}); err != nil {
		return nil, err
	}
	if err := p.step(ctx, log, "upsert messages", func() (int, error) {
		var err error
		result.Messages, err = p.store.UpsertMessages(ctx, messages)
		return int(result.Messages), err
	}); err != nil {
		return nil, err
	}
	if err := p.step(ctx, log, "upsert orders", func() (int, error) {
		var err error
		result.Orders, err = p.store.UpsertOrders(ctx, orders)
		return int(result.Orders), err
	}); err != nil {
		return nil, err
	}

	log.Info("pipeline: ingest done",
		zap.Int64("tickets", result.Tickets),
		zap.Int64("messages", result.Messages),
		zap.Int64("orders", result.Orders),
	)
	return result, nil
}

// fetchAllMessages fans out the message fetch keeping every message, not
// just the most recent one.
func (p *Pipeline) fetchAllMessages(ctx context.Context, tickets []ticket.Ticket) []ticket.Message {
	results := fanout.Map(ctx, tickets, p.cfg.Sync.MaxWorkers,
		func(ctx context.Context, t ticket.Ticket) ([]ticket.Message, error) {
			mp, err := p.client.GetTicketMessages(ctx, t.ID, 1, p.cfg.Sync.PageLimit)
			if err != nil {
				return nil, err
			}
			return ticket.NormalizeMessages(mp.Items, t.ID), nil
		})

	var msgs []ticket.Message
	for i, res := range results {
		if res.Err != nil {
			zap.L().Warn("pipeline: message fetch failed",
				zap.Int64("ticket_id", tickets[i].ID),
				zap.Error(res.Err),
			)
			continue
		}
		msgs = append(msgs, res.Value...)
	}
	return msgs
}

func (p *Pipeline) fetchAllOrders(ctx context.Context, tickets []ticket.Ticket) []ticket.Order {
	results := fanout.Map(ctx, tickets, p.cfg.Sync.MaxWorkers,
		func(ctx context.Context, t ticket.Ticket) ([]ticket.Order, error) {
			raw, err := p.client.GetTicketOrders(ctx, t.ID)
			if err != nil {
				return nil, err
			}
			return ticket.NormalizeOrders(raw, t.ID), nil
		})

	var orders []ticket.Order
	for i, res := range results {
		if res.Err != nil {
			zap.L().Warn("pipeline: order fetch failed",
				zap.Int64("ticket_id", tickets[i].ID),
				zap.Error(res.Err),
			)
			continue
		}
		orders = append(orders, res.Value...)
	}
	return orders
}
