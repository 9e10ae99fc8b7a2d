// Package warehouse persists helpdesk data into the predize_info schema and
// reads the order reference table used by reconciliation.
package warehouse

import (
	"context"
	"time"

	"github.com/nocnoc-data/predize-sync/internal/reconcile"
	"github.com/nocnoc-data/predize-sync/internal/ticket"
)

// Run statuses recorded in the sync-run log.
const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// Run is one row of the sync-run log.
type Run struct {
	ID         string
	Job        string
	Status     string
	Rows       int64
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Store is the warehouse surface the pipeline and the backfill use.
type Store interface {
	// Migrate creates the predize_info schema and its tables.
	Migrate(ctx context.Context) error

	// Upserts into predize_info, keyed by the helpdesk's own ids.
	UpsertTickets(ctx context.Context, tickets []ticket.Ticket) (int64, error)
	UpsertMessages(ctx context.Context, messages []ticket.Message) (int64, error)
	UpsertOrders(ctx context.Context, orders []ticket.Order) (int64, error)

	// SaveClassified stores the pipeline's final filtered output.
	SaveClassified(ctx context.Context, records []ticket.ClassifiedRecord) (int64, error)

	// ReferencesByRawID reads reference rows matching the given raw
	// merchant invoice ids exactly.
	ReferencesByRawID(ctx context.Context, rawIDs []string) ([]reconcile.Reference, error)

	// B2WCandidates reads the fuzzy-match candidate pool: reference rows
	// for americanas merchants whose order is not yet linked to a b2w
	// ticket.
	B2WCandidates(ctx context.Context) ([]reconcile.Reference, error)

	// UnmatchedOrders reads order rows still missing an internal order id,
	// joined to their ticket for the channel.
	UnmatchedOrders(ctx context.Context) ([]reconcile.Item, error)

	// UpdateOrders writes resolved order ids back onto predize_info.orders.
	// Unmatched entries are skipped.
	UpdateOrders(ctx context.Context, matches []reconcile.Match) (int64, error)

	// Sync-run log.
	RecordRun(ctx context.Context, job string) (string, error)
	FinishRun(ctx context.Context, runID, status string, rows int64, runErr error) error
	RecentRuns(ctx context.Context, limit int) ([]Run, error)

	Close()
}
