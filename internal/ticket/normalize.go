package ticket

import (
	"time"

	"go.uber.org/zap"

	"github.com/nocnoc-data/predize-sync/pkg/predize"
)

// The helpdesk reports these strings when a channel never set a date. They
// mean "unset", not year zero.
var zeroDateSentinels = map[string]bool{
	"0001-12-30T00:00:00.000Z": true,
	"0000-12-30T00:00:00.000Z": true,
}

// timeLayouts are tried in order when coercing wire timestamps.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseTime coerces a wire timestamp to a UTC instant. Sentinel zero-dates,
// empty strings, and unparseable values all come back nil.
func ParseTime(s string) *time.Time {
	if s == "" || zeroDateSentinels[s] {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	zap.L().Debug("ticket: unparseable timestamp", zap.String("value", s))
	return nil
}

// NormalizeTickets converts raw ticket payloads into normalized records.
// Rules:
//   - duplicate ids are dropped, first occurrence wins
//   - zero-date sentinels on channelDate and closeDate are treated as unset
//     and replaced with lastUpdate
//   - a CLOSED ticket with an unset closeDate gets lastUpdate as its close
//     timestamp (closure inference)
func NormalizeTickets(raw []predize.Ticket) []Ticket {
	seen := make(map[int64]bool, len(raw))
	out := make([]Ticket, 0, len(raw))

	for _, rt := range raw {
		id := rt.ID.Int64()
		if seen[id] {
			continue
		}
		seen[id] = true

		lastUpdate := ParseTime(rt.LastUpdate)

		channelDate := ParseTime(rt.ChannelDate)
		if zeroDateSentinels[rt.ChannelDate] {
			channelDate = lastUpdate
		}

		var closeDate *time.Time
		if rt.CloseDate != nil {
			closeDate = ParseTime(*rt.CloseDate)
			if zeroDateSentinels[*rt.CloseDate] {
				closeDate = lastUpdate
			}
		}
		if closeDate == nil && Status(rt.Status) == StatusClosed {
			closeDate = lastUpdate
		}

		t := Ticket{
			ID:          id,
			Status:      Status(rt.Status),
			Type:        Type(rt.Type),
			ChannelDate: channelDate,
			CloseDate:   closeDate,
			LastUpdate:  lastUpdate,
			MerchantID:  rt.ChannelAccount.ID,
			Channel:     rt.ChannelAccount.Channel,
		}
		if rt.ClaimType != nil {
			t.ClaimType = *rt.ClaimType
		}
		if rt.TargetSLA != nil {
			t.TargetSLA = ParseTime(*rt.TargetSLA)
		}
		if rt.TicketChannelID != nil {
			t.TicketChannelID = *rt.TicketChannelID
		}

		out = append(out, t)
	}

	return out
}

// NormalizeMessages converts raw message payloads. WhoResponded is nulled
// whenever the message did not come from the seller side.
func NormalizeMessages(raw []predize.Message, ticketID int64) []Message {
	out := make([]Message, 0, len(raw))
	for _, rm := range raw {
		m := Message{
			ID:         rm.ID.Int64(),
			TicketID:   rm.TicketID.Int64(),
			Text:       rm.Text,
			CreateDate: ParseTime(rm.CreateDate),
			Seller:     rm.Seller,
		}
		if m.TicketID == 0 {
			// Some API responses omit the ticket id on message items.
			m.TicketID = ticketID
		}
		if rm.Seller {
			m.WhoResponded = rm.WhoResponded
		}
		out = append(out, m)
	}
	return out
}

// LastMessagePerTicket reduces a message set to one row per ticket id,
// keeping the message with the maximum creation timestamp. Messages without
// a creation timestamp lose to any dated message; among equals the earlier
// occurrence wins.
func LastMessagePerTicket(msgs []Message) map[int64]Message {
	last := make(map[int64]Message)
	for _, m := range msgs {
		cur, ok := last[m.TicketID]
		if !ok {
			last[m.TicketID] = m
			continue
		}
		if after(m.CreateDate, cur.CreateDate) {
			last[m.TicketID] = m
		}
	}
	return last
}

// after reports whether a is strictly later than b, with nil ordered first.
func after(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}

// NormalizeOrders converts raw order payloads for a ticket, dropping rows
// without an order code.
func NormalizeOrders(raw []predize.Order, ticketID int64) []Order {
	out := make([]Order, 0, len(raw))
	for _, ro := range raw {
		if ro.Code.Int64() == 0 {
			continue
		}
		o := Order{
			ID:             ro.Code.Int64(),
			TicketID:       ticketID,
			CreationDate:   ParseTime(ro.CreationDate),
			Status:         ro.Status,
			ChannelOrderID: ro.ChannelOrderID,
		}
		if ro.InvoiceNumber != nil {
			o.InvoiceNumber = *ro.InvoiceNumber
		}
		if ro.InvoiceKey != nil {
			o.InvoiceKey = *ro.InvoiceKey
		}
		out = append(out, o)
	}
	return out
}
