// Package pipeline sequences the helpdesk sync: fetch tickets in a lookback
// window, join their last messages and order ids, classify message text, and
// emit the filtered result.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nocnoc-data/predize-sync/internal/config"
	"github.com/nocnoc-data/predize-sync/internal/fanout"
	"github.com/nocnoc-data/predize-sync/internal/notify"
	"github.com/nocnoc-data/predize-sync/internal/reconcile"
	"github.com/nocnoc-data/predize-sync/internal/ticket"
	"github.com/nocnoc-data/predize-sync/internal/topic"
	"github.com/nocnoc-data/predize-sync/internal/warehouse"
	"github.com/nocnoc-data/predize-sync/pkg/predize"
)

// Pipeline wires the sync steps together.
type Pipeline struct {
	cfg        *config.Config
	client     predize.Client
	store      warehouse.Store
	classifier topic.Classifier
	names      topic.NameMap
	notifier   notify.Notifier

	// now is swapped in tests to pin the lookback window.
	now func() time.Time
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	client predize.Client,
	store warehouse.Store,
	classifier topic.Classifier,
	names topic.NameMap,
	notifier notify.Notifier,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		client:     client,
		store:      store,
		classifier: classifier,
		names:      names,
		notifier:   notifier,
		now:        time.Now,
	}
}

// Result is the outcome of one pipeline run.
type Result struct {
	Records []ticket.ClassifiedRecord
	Fetched int
	Saved   int64
}

// Run executes the linear step sequence for one lookback window. The first
// failing step is reported to the notifier exactly once and aborts the run;
// no partial state is persisted.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("job", "run"))
	runID, err := p.store.RecordRun(ctx, "run")
	if err != nil {
		// The run log is observability, not a precondition.
		log.Warn("pipeline: record run failed", zap.Error(err))
	}

	result, err := p.run(ctx, log)
	if runID != "" {
		status := warehouse.RunStatusDone
		var rows int64
		if err != nil {
			status = warehouse.RunStatusFailed
		} else {
			rows = result.Saved
		}
		if finishErr := p.store.FinishRun(ctx, runID, status, rows, err); finishErr != nil {
			log.Warn("pipeline: finish run failed", zap.Error(finishErr))
		}
	}
	return result, err
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger) (*Result, error) {
	var (
		tickets  []ticket.Ticket
		lastMsgs map[int64]ticket.Message
		matches  map[int64]reconcile.Match
		records  []ticket.Record
		preds    []topic.Prediction
		final    []ticket.ClassifiedRecord
	)

	if err := p.step(ctx, log, "fetch tickets", func() (int, error) {
		var err error
		tickets, err = p.fetchTickets(ctx)
		return len(tickets), err
	}); err != nil {
		return nil, err
	}

	fetched := len(tickets)
	if fetched == 0 {
		log.Info("pipeline: no tickets in lookback window, done")
		return &Result{Fetched: 0}, nil
	}

	if err := p.step(ctx, log, "filter ticket type", func() (int, error) {
		tickets = filterTickets(tickets, func(t ticket.Ticket) bool {
			return string(t.Type) == p.cfg.Sync.TicketType
		})
		return len(tickets), nil
	}); err != nil {
		return nil, err
	}

	if err := p.step(ctx, log, "fetch last messages", func() (int, error) {
		lastMsgs = p.fetchLastMessages(ctx, tickets)
		return len(lastMsgs), nil
	}); err != nil {
		return nil, err
	}

	// Only buyer-authored conversations are classified: a ticket whose
	// latest message came from the seller side is waiting on the buyer.
	if err := p.step(ctx, log, "filter seller", func() (int, error) {
		tickets = filterTickets(tickets, func(t ticket.Ticket) bool {
			msg, ok := lastMsgs[t.ID]
			return !ok || !msg.Seller
		})
		return len(tickets), nil
	}); err != nil {
		return nil, err
	}

	if err := p.step(ctx, log, "resolve order ids", func() (int, error) {
		var err error
		matches, err = p.resolveOrders(ctx, tickets)
		return len(matches), err
	}); err != nil {
		return nil, err
	}

	if err := p.step(ctx, log, "filter channel", func() (int, error) {
		tickets = filterTickets(tickets, func(t ticket.Ticket) bool {
			return t.Channel == p.cfg.Sync.Channel
		})
		return len(tickets), nil
	}); err != nil {
		return nil, err
	}

	if err := p.step(ctx, log, "simplify", func() (int, error) {
		records = simplify(tickets, lastMsgs, matches)
		return len(records), nil
	}); err != nil {
		return nil, err
	}

	if err := p.step(ctx, log, "classify", func() (int, error) {
		texts := make([]string, len(records))
		for i, r := range records {
			texts[i] = r.Message
		}
		var err error
		preds, err = p.classifier.Transform(ctx, texts)
		return len(preds), err
	}); err != nil {
		return nil, err
	}

	if err := p.step(ctx, log, "map topic names", func() (int, error) {
		var err error
		final, err = topic.Annotate(records, preds, p.names)
		return len(final), err
	}); err != nil {
		return nil, err
	}

	if err := p.step(ctx, log, "filter topic", func() (int, error) {
		final = filterRecords(final, func(r ticket.ClassifiedRecord) bool {
			return r.TopicName == p.cfg.Sync.Topic
		})
		return len(final), nil
	}); err != nil {
		return nil, err
	}

	if err := p.step(ctx, log, "filter confidence", func() (int, error) {
		final = filterRecords(final, func(r ticket.ClassifiedRecord) bool {
			return r.Probability > p.cfg.Sync.ConfidenceThreshold
		})
		return len(final), nil
	}); err != nil {
		return nil, err
	}

	var saved int64
	if err := p.step(ctx, log, "save records", func() (int, error) {
		var err error
		saved, err = p.store.SaveClassified(ctx, final)
		return int(saved), err
	}); err != nil {
		return nil, err
	}

	log.Info("pipeline: done",
		zap.Int("fetched", fetched),
		zap.Int("emitted", len(final)),
		zap.Int64("saved", saved),
	)
	return &Result{Records: final, Fetched: fetched, Saved: saved}, nil
}

// step runs one transition, logging duration and the surviving row count.
// Zero rows is a warning but not fatal; an error notifies the webhook and
// aborts.
func (p *Pipeline) step(ctx context.Context, log *zap.Logger, name string, fn func() (int, error)) error {
	start := time.Now()
	n, err := fn()
	elapsed := time.Since(start)

	if err != nil {
		wrapped := eris.Wrapf(err, "pipeline: %s", name)
		log.Error("pipeline: step failed",
			zap.String("step", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(wrapped),
		)
		if notifyErr := p.notifier.NotifyError(ctx, name, eris.ToString(wrapped, true)); notifyErr != nil {
			log.Warn("pipeline: notification failed", zap.Error(notifyErr))
		}
		return wrapped
	}

	if n == 0 {
		log.Warn("pipeline: step left zero rows",
			zap.String("step", name),
			zap.Duration("elapsed", elapsed),
		)
		return nil
	}
	log.Info("pipeline: step complete",
		zap.String("step", name),
		zap.Int("rows", n),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

// fetchTickets pages through GET /v1/tickets for the lookback window,
// filtering on the last-message timestamps so a ticket with recent activity
// is picked up even when the ticket itself is old.
func (p *Pipeline) fetchTickets(ctx context.Context) ([]ticket.Ticket, error) {
	to := p.now().UTC()
	from := to.Add(-p.cfg.Sync.Lookback())

	var raw []predize.Ticket
	page := 1
	for {
		tp, err := p.client.GetTickets(ctx, predize.TicketQuery{
			Page:            page,
			Limit:           p.cfg.Sync.PageLimit,
			LastMessageFrom: predize.FormatTimestamp(from),
			LastMessageTo:   predize.FormatTimestamp(to),
		})
		if err != nil {
			return nil, err
		}
		raw = append(raw, tp.Items...)
		if page >= tp.Meta.TotalPages || len(tp.Items) == 0 {
			break
		}
		page++
	}

	return ticket.NormalizeTickets(raw), nil
}

// fetchLastMessages fans out the per-ticket message fetch and reduces each
// ticket to its most recent message. A failed fetch drops that ticket from
// the join, never the batch.
func (p *Pipeline) fetchLastMessages(ctx context.Context, tickets []ticket.Ticket) map[int64]ticket.Message {
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
	return ticket.LastMessagePerTicket(msgs)
}

// resolveOrders fans out the per-ticket order lookup and reconciles the
// reported invoice ids against the warehouse reference table.
func (p *Pipeline) resolveOrders(ctx context.Context, tickets []ticket.Ticket) (map[int64]reconcile.Match, error) {
	results := fanout.Map(ctx, tickets, p.cfg.Sync.MaxWorkers,
		func(ctx context.Context, t ticket.Ticket) ([]ticket.Order, error) {
			raw, err := p.client.GetTicketOrders(ctx, t.ID)
			if err != nil {
				return nil, err
			}
			return ticket.NormalizeOrders(raw, t.ID), nil
		})

	channelByTicket := make(map[int64]string, len(tickets))
	for _, t := range tickets {
		channelByTicket[t.ID] = t.Channel
	}

	var items []reconcile.Item
	needB2W := false
	for i, res := range results {
		if res.Err != nil {
			zap.L().Warn("pipeline: order fetch failed",
				zap.Int64("ticket_id", tickets[i].ID),
				zap.Error(res.Err),
			)
			continue
		}
		for _, o := range res.Value {
			it := reconcile.Item{
				ID:           o.ID,
				TicketID:     o.TicketID,
				RawInvoiceID: o.ChannelOrderID,
				Channel:      channelByTicket[o.TicketID],
			}
			if it.Channel == reconcile.ChannelB2W && it.RawInvoiceID != "" {
				needB2W = true
			}
			items = append(items, it)
		}
	}

	refs, err := p.store.ReferencesByRawID(ctx, lookupKeys(items))
	if err != nil {
		return nil, err
	}

	var b2wRefs []reconcile.Reference
	if needB2W {
		b2wRefs, err = p.store.B2WCandidates(ctx)
		if err != nil {
			return nil, err
		}
	}

	resolved := reconcile.Resolve(items, refs, b2wRefs)
	byTicket := make(map[int64]reconcile.Match, len(resolved))
	for _, m := range resolved {
		if _, ok := byTicket[m.TicketID]; !ok {
			byTicket[m.TicketID] = m
		}
	}
	return byTicket, nil
}

// lookupKeys collects the raw ids for the exact-match reference query,
// applying the magalu prefix the warehouse stores.
func lookupKeys(items []reconcile.Item) []string {
	keys := make([]string, 0, len(items))
	for _, it := range items {
		if it.RawInvoiceID == "" || it.Channel == reconcile.ChannelB2W {
			continue
		}
		key := it.RawInvoiceID
		if it.Channel == reconcile.ChannelMagalu {
			key = "LU-" + key
		}
		keys = append(keys, key)
	}
	return keys
}

// simplify joins tickets with their last message and resolved order id.
// Tickets without a message are dropped: the classifier has nothing to read.
func simplify(tickets []ticket.Ticket, lastMsgs map[int64]ticket.Message, matches map[int64]reconcile.Match) []ticket.Record {
	out := make([]ticket.Record, 0, len(tickets))
	for _, t := range tickets {
		msg, ok := lastMsgs[t.ID]
		if !ok {
			continue
		}
		rec := ticket.Record{
			TicketID:     t.ID,
			Channel:      t.Channel,
			Type:         t.Type,
			Status:       t.Status,
			ChannelDate:  t.ChannelDate,
			Message:      msg.Text,
			MessageDate:  msg.CreateDate,
			Seller:       msg.Seller,
			WhoResponded: msg.WhoResponded,
		}
		if m, ok := matches[t.ID]; ok {
			rec.OrderID = m.OrderID
			rec.MerchantInvoiceID = m.MerchantInvoiceID
		}
		out = append(out, rec)
	}
	return out
}

func filterTickets(in []ticket.Ticket, keep func(ticket.Ticket) bool) []ticket.Ticket {
	out := in[:0]
	for _, t := range in {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func filterRecords(in []ticket.ClassifiedRecord, keep func(ticket.ClassifiedRecord) bool) []ticket.ClassifiedRecord {
	out := in[:0]
	for _, r := range in {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
