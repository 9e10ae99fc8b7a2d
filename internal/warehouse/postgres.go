package warehouse

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nocnoc-data/predize-sync/internal/db"
	"github.com/nocnoc-data/predize-sync/internal/reconcile"
	"github.com/nocnoc-data/predize-sync/internal/ticket"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "warehouse: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewWithPool wraps an existing pool. Used by tests with pgxmock.
func NewWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.closeFn()
}

const migration = `
CREATE SCHEMA IF NOT EXISTS predize_info;

CREATE TABLE IF NOT EXISTS predize_info.tickets (
	id                BIGINT PRIMARY KEY,
	status            TEXT NOT NULL,
	type              TEXT NOT NULL,
	claim_type        TEXT,
	channel_date      TIMESTAMPTZ,
	close_date        TIMESTAMPTZ,
	last_update       TIMESTAMPTZ,
	target_sla        TIMESTAMPTZ,
	merchant_id       BIGINT,
	channel           TEXT,
	ticket_channel_id TEXT
);

CREATE TABLE IF NOT EXISTS predize_info.messages (
	id            BIGINT PRIMARY KEY,
	ticket_id     BIGINT NOT NULL,
	message       TEXT,
	create_date   TIMESTAMPTZ,
	seller        BOOLEAN NOT NULL DEFAULT false,
	who_responded TEXT
);

CREATE TABLE IF NOT EXISTS predize_info.orders (
	id                  BIGINT PRIMARY KEY,
	ticket_id           BIGINT NOT NULL,
	order_id            BIGINT,
	merchant_invoice_id TEXT,
	channel_order_id    TEXT,
	status              TEXT,
	creation_date       TIMESTAMPTZ,
	invoice_number      TEXT,
	invoice_key         TEXT
);

CREATE TABLE IF NOT EXISTS predize_info.classified_tickets (
	ticket_id           BIGINT PRIMARY KEY,
	channel             TEXT,
	type                TEXT,
	status              TEXT,
	channel_date        TIMESTAMPTZ,
	message             TEXT,
	message_date        TIMESTAMPTZ,
	seller              BOOLEAN NOT NULL DEFAULT false,
	who_responded       TEXT,
	order_id            BIGINT,
	merchant_invoice_id TEXT,
	topic_number        INT,
	topic_name          TEXT,
	probability         DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS predize_info.sync_runs (
	id          TEXT PRIMARY KEY,
	job         TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	rows        BIGINT NOT NULL DEFAULT 0,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);
`

// Migrate creates the predize_info schema and tables. The
// warehouse.raw_merchant_invoice_id reference table is owned by another
// system and is only ever read here.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migration); err != nil {
		return eris.Wrap(err, "warehouse: migrate")
	}
	return nil
}

var ticketColumns = []string{
	"id", "status", "type", "claim_type", "channel_date", "close_date",
	"last_update", "target_sla", "merchant_id", "channel", "ticket_channel_id",
}

// UpsertTickets writes normalized tickets into predize_info.tickets.
func (s *PostgresStore) UpsertTickets(ctx context.Context, tickets []ticket.Ticket) (int64, error) {
	rows := make([][]any, len(tickets))
	for i, t := range tickets {
		rows[i] = []any{
			t.ID, string(t.Status), string(t.Type), t.ClaimType, t.ChannelDate,
			t.CloseDate, t.LastUpdate, t.TargetSLA, t.MerchantID, t.Channel,
			t.TicketChannelID,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "predize_info.tickets",
		Columns:      ticketColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "warehouse: upsert tickets")
	}
	return n, nil
}

var messageColumns = []string{
	"id", "ticket_id", "message", "create_date", "seller", "who_responded",
}

// UpsertMessages writes normalized messages into predize_info.messages.
func (s *PostgresStore) UpsertMessages(ctx context.Context, messages []ticket.Message) (int64, error) {
	rows := make([][]any, len(messages))
	for i, m := range messages {
		rows[i] = []any{m.ID, m.TicketID, m.Text, m.CreateDate, m.Seller, m.WhoResponded}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "predize_info.messages",
		Columns:      messageColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "warehouse: upsert messages")
	}
	return n, nil
}

var orderColumns = []string{
	"id", "ticket_id", "channel_order_id", "status", "creation_date",
	"invoice_number", "invoice_key",
}

// UpsertOrders writes normalized orders into predize_info.orders. The
// order_id and merchant_invoice_id columns are left alone so a later
// reconciliation write-back is not clobbered by a re-ingest.
func (s *PostgresStore) UpsertOrders(ctx context.Context, orders []ticket.Order) (int64, error) {
	rows := make([][]any, len(orders))
	for i, o := range orders {
		rows[i] = []any{
			o.ID, o.TicketID, o.ChannelOrderID, o.Status, o.CreationDate,
			o.InvoiceNumber, o.InvoiceKey,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "predize_info.orders",
		Columns:      orderColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "warehouse: upsert orders")
	}
	return n, nil
}

var classifiedColumns = []string{
	"ticket_id", "channel", "type", "status", "channel_date", "message",
	"message_date", "seller", "who_responded", "order_id",
	"merchant_invoice_id", "topic_number", "topic_name", "probability",
}

// SaveClassified writes the pipeline's final filtered records.
func (s *PostgresStore) SaveClassified(ctx context.Context, records []ticket.ClassifiedRecord) (int64, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			r.TicketID, r.Channel, string(r.Type), string(r.Status),
			r.ChannelDate, r.Message, r.MessageDate, r.Seller, r.WhoResponded,
			r.OrderID, r.MerchantInvoiceID, r.TopicNumber, r.TopicName,
			r.Probability,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "predize_info.classified_tickets",
		Columns:      classifiedColumns,
		ConflictKeys: []string{"ticket_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "warehouse: save classified records")
	}
	return n, nil
}

const referencesByRawIDSQL = `
SELECT raw_merchant_invoice_id, merchant_invoice_id, order_id
FROM warehouse.raw_merchant_invoice_id
WHERE raw_merchant_invoice_id = ANY($1)`

// ReferencesByRawID reads reference rows matching the raw ids exactly.
func (s *PostgresStore) ReferencesByRawID(ctx context.Context, rawIDs []string) ([]reconcile.Reference, error) {
	if len(rawIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, referencesByRawIDSQL, rawIDs)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: query references by raw id")
	}
	defer rows.Close()

	var refs []reconcile.Reference
	for rows.Next() {
		var r reconcile.Reference
		if err := rows.Scan(&r.RawMerchantInvoiceID, &r.MerchantInvoiceID, &r.OrderID); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan reference row")
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: iterate reference rows")
	}
	return refs, nil
}

// b2wCandidatesSQL restricts the fuzzy pool to americanas-style raw ids
// whose order has no b2w ticket linked yet, so an already-reconciled order
// is never stolen by a later fuzzy match.
const b2wCandidatesSQL = `
SELECT r.raw_merchant_invoice_id, r.merchant_invoice_id, r.order_id
FROM warehouse.raw_merchant_invoice_id r
WHERE r.raw_merchant_invoice_id LIKE '%-%'
  AND NOT EXISTS (
	SELECT 1
	FROM predize_info.orders o
	JOIN predize_info.tickets t ON t.id = o.ticket_id
	WHERE o.order_id = r.order_id AND t.channel = 'b2w'
  )`

// B2WCandidates reads the fuzzy-match candidate pool for the b2w channel.
func (s *PostgresStore) B2WCandidates(ctx context.Context) ([]reconcile.Reference, error) {
	rows, err := s.pool.Query(ctx, b2wCandidatesSQL)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: query b2w candidates")
	}
	defer rows.Close()

	var refs []reconcile.Reference
	for rows.Next() {
		var r reconcile.Reference
		if err := rows.Scan(&r.RawMerchantInvoiceID, &r.MerchantInvoiceID, &r.OrderID); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan b2w candidate row")
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: iterate b2w candidate rows")
	}
	return refs, nil
}

const unmatchedOrdersSQL = `
SELECT o.id, o.ticket_id, COALESCE(o.channel_order_id, ''), COALESCE(t.channel, '')
FROM predize_info.orders o
JOIN predize_info.tickets t ON t.id = o.ticket_id
WHERE o.order_id IS NULL`

// UnmatchedOrders reads order rows still missing an internal order id.
func (s *PostgresStore) UnmatchedOrders(ctx context.Context) ([]reconcile.Item, error) {
	rows, err := s.pool.Query(ctx, unmatchedOrdersSQL)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: query unmatched orders")
	}
	defer rows.Close()

	var items []reconcile.Item
	for rows.Next() {
		var it reconcile.Item
		if err := rows.Scan(&it.ID, &it.TicketID, &it.RawInvoiceID, &it.Channel); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan unmatched order row")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: iterate unmatched order rows")
	}
	return items, nil
}

// UpdateOrders writes resolved order ids back onto predize_info.orders via
// a temp-table bulk update. Only matched entries are written.
func (s *PostgresStore) UpdateOrders(ctx context.Context, matches []reconcile.Match) (int64, error) {
	matched := reconcile.Matched(matches)
	if len(matched) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(matched))
	for i, m := range matched {
		rows[i] = []any{m.ID, *m.OrderID, m.MerchantInvoiceID}
	}
	n, err := db.UpdateFrom(ctx, s.pool, db.UpdateConfig{
		Table:        "predize_info.orders",
		Columns:      []string{"id", "order_id", "merchant_invoice_id"},
		MatchColumns: []string{"id"},
		UpdateCols:   []string{"order_id", "merchant_invoice_id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "warehouse: update orders")
	}
	zap.L().Info("warehouse: orders updated",
		zap.Int("matched", len(matched)),
		zap.Int64("updated", n),
	)
	return n, nil
}

const insertRunSQL = `
INSERT INTO predize_info.sync_runs (id, job, status, started_at)
VALUES ($1, $2, $3, now())`

// RecordRun inserts a sync-run log row and returns its id.
func (s *PostgresStore) RecordRun(ctx context.Context, job string) (string, error) {
	id := uuid.NewString()
	if _, err := s.pool.Exec(ctx, insertRunSQL, id, job, RunStatusRunning); err != nil {
		return "", eris.Wrapf(err, "warehouse: record run for %s", job)
	}
	return id, nil
}

const recentRunsSQL = `
SELECT id, job, status, rows, COALESCE(error, ''), started_at, finished_at
FROM predize_info.sync_runs
ORDER BY started_at DESC
LIMIT $1`

// RecentRuns reads the latest sync-run log rows, newest first.
func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: query recent runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Job, &r.Status, &r.Rows, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan run row")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: iterate run rows")
	}
	return runs, nil
}

const finishRunSQL = `
UPDATE predize_info.sync_runs
SET status = $1, rows = $2, error = $3, finished_at = now()
WHERE id = $4`

// FinishRun closes a sync-run log row.
func (s *PostgresStore) FinishRun(ctx context.Context, runID, status string, rows int64, runErr error) error {
	var errMsg string
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if _, err := s.pool.Exec(ctx, finishRunSQL, status, rows, errMsg, runID); err != nil {
		return eris.Wrapf(err, "warehouse: finish run %s", runID)
	}
	return nil
}
