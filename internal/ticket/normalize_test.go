package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocnoc-data/predize-sync/pkg/predize"
)

func strPtr(s string) *string { return &s }

func TestParseTime(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want *time.Time
	}{
		{"millisecond utc", "2024-03-01T10:00:00.000Z", timePtr(2024, 3, 1, 10, 0, 0)},
		{"rfc3339", "2024-03-01T10:00:00Z", timePtr(2024, 3, 1, 10, 0, 0)},
		{"sentinel 0001", "0001-12-30T00:00:00.000Z", nil},
		{"sentinel 0000", "0000-12-30T00:00:00.000Z", nil},
		{"empty", "", nil},
		{"garbage", "not-a-date", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTime(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got))
		})
	}
}

func timePtr(y int, mo time.Month, d, h, mi, s int) *time.Time {
	t := time.Date(y, mo, d, h, mi, s, 0, time.UTC)
	return &t
}

func TestNormalizeTickets_DedupByID(t *testing.T) {
	raw := []predize.Ticket{
		{ID: 1, Status: "OPEN", Type: "POST_ORDER", LastUpdate: "2024-03-01T10:00:00.000Z"},
		{ID: 2, Status: "CLOSED", Type: "POST_ORDER", LastUpdate: "2024-03-01T11:00:00.000Z"},
		{ID: 1, Status: "CLOSED", Type: "PRE_ORDER", LastUpdate: "2024-03-01T12:00:00.000Z"},
	}

	out := NormalizeTickets(raw)
	require.Len(t, out, 2)

	// First occurrence wins.
	assert.Equal(t, int64(1), out[0].ID)
	assert.Equal(t, StatusOpen, out[0].Status)
	assert.Equal(t, TypePostOrder, out[0].Type)
	assert.Equal(t, int64(2), out[1].ID)
}

func TestNormalizeTickets_SentinelChannelDate(t *testing.T) {
	for _, sentinel := range []string{"0001-12-30T00:00:00.000Z", "0000-12-30T00:00:00.000Z"} {
		raw := []predize.Ticket{{
			ID:          10,
			Status:      "OPEN",
			Type:        "POST_ORDER",
			ChannelDate: sentinel,
			LastUpdate:  "2024-03-02T08:30:00.000Z",
		}}

		out := NormalizeTickets(raw)
		require.Len(t, out, 1)
		require.NotNil(t, out[0].ChannelDate)
		assert.True(t, out[0].ChannelDate.Equal(*out[0].LastUpdate),
			"sentinel %s must be replaced by lastUpdate", sentinel)
	}
}

func TestNormalizeTickets_SentinelCloseDate(t *testing.T) {
	raw := []predize.Ticket{{
		ID:         11,
		Status:     "OPEN",
		Type:       "POST_ORDER",
		CloseDate:  strPtr("0001-12-30T00:00:00.000Z"),
		LastUpdate: "2024-03-02T08:30:00.000Z",
	}}

	out := NormalizeTickets(raw)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].CloseDate)
	assert.True(t, out[0].CloseDate.Equal(*out[0].LastUpdate))
}

func TestNormalizeTickets_ClosureInference(t *testing.T) {
	raw := []predize.Ticket{
		{ID: 20, Status: "CLOSED", Type: "POST_ORDER", LastUpdate: "2024-03-02T09:00:00.000Z"},
		{ID: 21, Status: "OPEN", Type: "POST_ORDER", LastUpdate: "2024-03-02T09:00:00.000Z"},
	}

	out := NormalizeTickets(raw)
	require.Len(t, out, 2)

	// CLOSED without a close date inherits lastUpdate.
	require.NotNil(t, out[0].CloseDate)
	assert.True(t, out[0].CloseDate.Equal(*out[0].LastUpdate))

	// OPEN tickets stay without a close date.
	assert.Nil(t, out[1].CloseDate)
}

func TestNormalizeTickets_ExplicitCloseDateKept(t *testing.T) {
	raw := []predize.Ticket{{
		ID:         22,
		Status:     "CLOSED",
		Type:       "POST_ORDER",
		CloseDate:  strPtr("2024-02-28T18:00:00.000Z"),
		LastUpdate: "2024-03-02T09:00:00.000Z",
	}}

	out := NormalizeTickets(raw)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].CloseDate)
	assert.True(t, out[0].CloseDate.Equal(time.Date(2024, 2, 28, 18, 0, 0, 0, time.UTC)))
}

func TestNormalizeTickets_ChannelAccount(t *testing.T) {
	raw := []predize.Ticket{{
		ID:     30,
		Status: "OPEN",
		Type:   "POST_ORDER",
		ChannelAccount: predize.ChannelAccount{
			ID:      23,
			Channel: "mercadolivre",
		},
		LastUpdate: "2024-03-02T09:00:00.000Z",
	}}

	out := NormalizeTickets(raw)
	require.Len(t, out, 1)
	assert.Equal(t, int64(23), out[0].MerchantID)
	assert.Equal(t, "mercadolivre", out[0].Channel)
}

func TestNormalizeMessages_WhoRespondedNulledForBuyerSide(t *testing.T) {
	raw := []predize.Message{
		{ID: 1, TicketID: 100, Text: "hello", Seller: true, WhoResponded: strPtr("agent-7"), CreateDate: "2024-03-01T10:00:00.000Z"},
		{ID: 2, TicketID: 100, Text: "where is it", Seller: false, WhoResponded: strPtr("ghost"), CreateDate: "2024-03-01T11:00:00.000Z"},
	}

	out := NormalizeMessages(raw, 100)
	require.Len(t, out, 2)

	require.NotNil(t, out[0].WhoResponded)
	assert.Equal(t, "agent-7", *out[0].WhoResponded)
	assert.Nil(t, out[1].WhoResponded)
}

func TestNormalizeMessages_TicketIDFallback(t *testing.T) {
	raw := []predize.Message{{ID: 5, Text: "hi", CreateDate: "2024-03-01T10:00:00.000Z"}}
	out := NormalizeMessages(raw, 777)
	require.Len(t, out, 1)
	assert.Equal(t, int64(777), out[0].TicketID)
}

func TestLastMessagePerTicket(t *testing.T) {
	msgs := []Message{
		{ID: 1, TicketID: 100, Text: "first", CreateDate: timePtr(2024, 3, 1, 10, 0, 0)},
		{ID: 2, TicketID: 100, Text: "last", CreateDate: timePtr(2024, 3, 1, 12, 0, 0)},
		{ID: 3, TicketID: 100, Text: "middle", CreateDate: timePtr(2024, 3, 1, 11, 0, 0)},
		{ID: 4, TicketID: 200, Text: "only", CreateDate: timePtr(2024, 3, 1, 9, 0, 0)},
		{ID: 5, TicketID: 300, Text: "undated"},
		{ID: 6, TicketID: 300, Text: "dated", CreateDate: timePtr(2024, 3, 1, 8, 0, 0)},
	}

	last := LastMessagePerTicket(msgs)
	require.Len(t, last, 3)

	// Exactly one row per ticket, chosen by max creation timestamp.
	assert.Equal(t, "last", last[100].Text)
	assert.Equal(t, "only", last[200].Text)
	// A dated message beats an undated one.
	assert.Equal(t, "dated", last[300].Text)

	// The retained row's timestamp is >= every other row in its group.
	for _, m := range msgs {
		if m.TicketID != 100 || m.CreateDate == nil {
			continue
		}
		assert.False(t, m.CreateDate.After(*last[100].CreateDate))
	}
}

func TestLastMessagePerTicket_TieKeepsFirst(t *testing.T) {
	ts := timePtr(2024, 3, 1, 10, 0, 0)
	msgs := []Message{
		{ID: 1, TicketID: 100, Text: "a", CreateDate: ts},
		{ID: 2, TicketID: 100, Text: "b", CreateDate: ts},
	}
	last := LastMessagePerTicket(msgs)
	assert.Equal(t, "a", last[100].Text)
}

func TestNormalizeOrders(t *testing.T) {
	raw := []predize.Order{
		{Code: 880011, CreationDate: "2024-02-01T10:00:00.000Z", Status: "DELIVERED", ChannelOrderID: "Sou Barato-AB-9981", InvoiceNumber: strPtr("NF-1")},
		{Code: 0, ChannelOrderID: "missing-code"},
	}

	out := NormalizeOrders(raw, 55)
	require.Len(t, out, 1)
	assert.Equal(t, int64(880011), out[0].ID)
	assert.Equal(t, int64(55), out[0].TicketID)
	assert.Equal(t, "Sou Barato-AB-9981", out[0].ChannelOrderID)
	assert.Equal(t, "NF-1", out[0].InvoiceNumber)
}
