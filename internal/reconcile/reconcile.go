// Package reconcile matches helpdesk tickets to internal order records via
// the merchant-invoice-id lookup table, with per-marketplace special cases.
package reconcile

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Channels with dedicated reconciliation handling.
const (
	ChannelB2W    = "b2w"
	ChannelMagalu = "magalu"
)

// americanasPrefixes are the vendor prefixes the b2w channel prepends to its
// invoice ids. They are stripped before matching.
var americanasPrefixes = []string{
	"Lojas Americanas-",
	"Sou Barato-",
	"soubarato-",
}

// Item is one row to reconcile: a ticket (or its order row in the
// warehouse) together with the channel-reported invoice id.
type Item struct {
	ID           int64  // order row id in predize_info.orders
	TicketID     int64  // originating ticket
	RawInvoiceID string // merchant invoice id as reported by the channel
	Channel      string // marketplace the ticket came from
}

// Reference maps a raw merchant-invoice-id string to an internal order id.
// Rows come from warehouse.raw_merchant_invoice_id and are read-only here.
type Reference struct {
	RawMerchantInvoiceID string
	MerchantInvoiceID    string
	OrderID              int64
}

// Method records which strategy produced a match.
type Method string

const (
	MethodExact  Method = "exact"  // direct lookup on the raw invoice id
	MethodDirect Method = "direct" // b2w stripped id with no delimiter IS the order id
	MethodFuzzy  Method = "fuzzy"  // b2w contains-match on the search key
	MethodNone   Method = "none"   // no match; order id stays null
)

// Match is the reconciliation outcome for a single item. OrderID is nil
// when no match was found; the item is preserved either way.
type Match struct {
	Item
	OrderID           *int64
	MerchantInvoiceID string
	Method            Method
}

// Resolve reconciles items against the reference table. refs is the exact
// lookup pool keyed by raw invoice id; b2wRefs is the fuzzy candidate pool
// for the American-marketplace special case (callers typically restrict it
// to americanas merchants with no b2w ticket linked yet). The output is the
// concatenation of the default-matched, b2w-matched, and unmatched
// partitions; every input item appears exactly once, so running Resolve
// twice over the same input yields identical assignments.
func Resolve(items []Item, refs []Reference, b2wRefs []Reference) []Match {
	byRaw := make(map[string]Reference, len(refs))
	for _, r := range refs {
		byRaw[r.RawMerchantInvoiceID] = r
	}

	var defaults, b2w, unmatched []Match

	for _, it := range items {
		if it.RawInvoiceID == "" {
			unmatched = append(unmatched, Match{Item: it, Method: MethodNone})
			continue
		}

		if it.Channel == ChannelB2W {
			b2w = append(b2w, resolveAmericanas(it, b2wRefs))
			continue
		}

		defaults = append(defaults, resolveExact(it, byRaw))
	}

	out := make([]Match, 0, len(items))
	out = append(out, defaults...)
	out = append(out, b2w...)
	out = append(out, unmatched...)

	zap.L().Debug("reconcile: resolved",
		zap.Int("items", len(items)),
		zap.Int("default", len(defaults)),
		zap.Int("b2w", len(b2w)),
		zap.Int("unmatched", len(unmatched)),
	)
	return out
}

// resolveExact looks the raw invoice id up directly. The magalu channel
// reports ids without the LU- prefix the warehouse stores, so it is
// prepended first.
func resolveExact(it Item, byRaw map[string]Reference) Match {
	raw := it.RawInvoiceID
	if it.Channel == ChannelMagalu {
		raw = "LU-" + raw
	}

	ref, ok := byRaw[raw]
	if !ok {
		return Match{Item: it, Method: MethodNone}
	}
	id := ref.OrderID
	return Match{
		Item:              it,
		OrderID:           &id,
		MerchantInvoiceID: ref.MerchantInvoiceID,
		Method:            MethodExact,
	}
}

// resolveAmericanas handles the b2w channel: strip the vendor prefix, then
// either read the order id straight off the remainder (no delimiter left)
// or fuzzy-match the trailing segment against the candidate pool.
func resolveAmericanas(it Item, b2wRefs []Reference) Match {
	stripped := it.RawInvoiceID
	for _, prefix := range americanasPrefixes {
		stripped = strings.ReplaceAll(stripped, prefix, "")
	}

	if !strings.Contains(stripped, "-") {
		id, err := strconv.ParseInt(stripped, 10, 64)
		if err != nil {
			zap.L().Warn("reconcile: b2w stripped id is not numeric",
				zap.Int64("ticket_id", it.TicketID),
				zap.String("stripped", stripped),
			)
			return Match{Item: it, Method: MethodNone}
		}
		return Match{
			Item:              it,
			OrderID:           &id,
			MerchantInvoiceID: stripped,
			Method:            MethodDirect,
		}
	}

	// Fuzzy path: the segment after the last delimiter is the search key;
	// any candidate whose raw id contains it matches, highest order id wins.
	parts := strings.Split(stripped, "-")
	key := parts[len(parts)-1]

	var best *Reference
	for i := range b2wRefs {
		ref := &b2wRefs[i]
		if !strings.Contains(ref.RawMerchantInvoiceID, key) {
			continue
		}
		if best == nil || ref.OrderID > best.OrderID {
			best = ref
		}
	}
	if best == nil {
		return Match{Item: it, Method: MethodNone}
	}

	id := best.OrderID
	return Match{
		Item:              it,
		OrderID:           &id,
		MerchantInvoiceID: best.MerchantInvoiceID,
		Method:            MethodFuzzy,
	}
}

// Matched filters a resolution down to the rows that found an order id.
func Matched(matches []Match) []Match {
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.OrderID != nil {
			out = append(out, m)
		}
	}
	return out
}
