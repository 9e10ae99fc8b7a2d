package pipeline

import (
	"context"
	"sync"

	"github.com/nocnoc-data/predize-sync/internal/reconcile"
	"github.com/nocnoc-data/predize-sync/internal/ticket"
	"github.com/nocnoc-data/predize-sync/internal/topic"
	"github.com/nocnoc-data/predize-sync/internal/warehouse"
	"github.com/nocnoc-data/predize-sync/pkg/predize"
)

type mockClient struct {
	tickets     []predize.Ticket
	ticketsErr  error
	messages    map[int64][]predize.Message
	messagesErr map[int64]error
	orders      map[int64][]predize.Order
	ordersErr   map[int64]error

	mu          sync.Mutex
	ticketCalls []predize.TicketQuery
}

func (m *mockClient) GetTickets(_ context.Context, q predize.TicketQuery) (*predize.TicketPage, error) {
	m.mu.Lock()
	m.ticketCalls = append(m.ticketCalls, q)
	m.mu.Unlock()
	if m.ticketsErr != nil {
		return nil, m.ticketsErr
	}
	return &predize.TicketPage{
		Items: m.tickets,
		Meta:  predize.PageMeta{CurrentPage: 1, TotalPages: 1, ItemCount: len(m.tickets), TotalItems: len(m.tickets)},
	}, nil
}

func (m *mockClient) GetTicketMessages(_ context.Context, ticketID int64, _, _ int) (*predize.MessagePage, error) {
	if err := m.messagesErr[ticketID]; err != nil {
		return nil, err
	}
	items := m.messages[ticketID]
	return &predize.MessagePage{
		Items: items,
		Meta:  predize.PageMeta{CurrentPage: 1, TotalPages: 1, ItemCount: len(items), TotalItems: len(items)},
	}, nil
}

func (m *mockClient) GetTicketOrders(_ context.Context, ticketID int64) ([]predize.Order, error) {
	if err := m.ordersErr[ticketID]; err != nil {
		return nil, err
	}
	return m.orders[ticketID], nil
}

type mockStore struct {
	refs      []reconcile.Reference
	b2wRefs   []reconcile.Reference
	unmatched []reconcile.Item

	mu            sync.Mutex
	savedRecords  []ticket.ClassifiedRecord
	savedTickets  []ticket.Ticket
	savedMessages []ticket.Message
	savedOrders   []ticket.Order
	updates       []reconcile.Match
	runs          []string
	finished      []string
	rawIDQueries  [][]string
	b2wQueried    bool
	saveErr       error
}

func (m *mockStore) Migrate(context.Context) error { return nil }

func (m *mockStore) UpsertTickets(_ context.Context, tickets []ticket.Ticket) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savedTickets = append(m.savedTickets, tickets...)
	return int64(len(tickets)), nil
}

func (m *mockStore) UpsertMessages(_ context.Context, messages []ticket.Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savedMessages = append(m.savedMessages, messages...)
	return int64(len(messages)), nil
}

func (m *mockStore) UpsertOrders(_ context.Context, orders []ticket.Order) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savedOrders = append(m.savedOrders, orders...)
	return int64(len(orders)), nil
}

func (m *mockStore) SaveClassified(_ context.Context, records []ticket.ClassifiedRecord) (int64, error) {
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savedRecords = append(m.savedRecords, records...)
	return int64(len(records)), nil
}

func (m *mockStore) ReferencesByRawID(_ context.Context, rawIDs []string) ([]reconcile.Reference, error) {
	m.mu.Lock()
	m.rawIDQueries = append(m.rawIDQueries, rawIDs)
	m.mu.Unlock()
	return m.refs, nil
}

func (m *mockStore) B2WCandidates(context.Context) ([]reconcile.Reference, error) {
	m.mu.Lock()
	m.b2wQueried = true
	m.mu.Unlock()
	return m.b2wRefs, nil
}

func (m *mockStore) UnmatchedOrders(context.Context) ([]reconcile.Item, error) {
	return m.unmatched, nil
}

func (m *mockStore) UpdateOrders(_ context.Context, matches []reconcile.Match) (int64, error) {
	matched := reconcile.Matched(matches)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, matched...)
	return int64(len(matched)), nil
}

func (m *mockStore) RecordRun(_ context.Context, job string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, job)
	return "run-" + job, nil
}

func (m *mockStore) FinishRun(_ context.Context, runID, status string, _ int64, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, runID+":"+status)
	return nil
}

func (m *mockStore) RecentRuns(context.Context, int) ([]warehouse.Run, error) {
	return nil, nil
}

func (m *mockStore) Close() {}

type mockClassifier struct {
	preds []topic.Prediction
	err   error

	mu    sync.Mutex
	calls [][]string
}

func (m *mockClassifier) Transform(_ context.Context, texts []string) ([]topic.Prediction, error) {
	m.mu.Lock()
	m.calls = append(m.calls, texts)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.preds != nil {
		return m.preds, nil
	}
	preds := make([]topic.Prediction, len(texts))
	return preds, nil
}

type mockNotifier struct {
	mu    sync.Mutex
	steps []string
}

func (m *mockNotifier) NotifyError(_ context.Context, step, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
	return nil
}
