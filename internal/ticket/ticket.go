// Package ticket holds the normalized helpdesk record types and the rules
// that turn raw API payloads into them.
package ticket

import "time"

// Status is the ticket lifecycle state reported by the helpdesk.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClosed  Status = "CLOSED"
	StatusPending Status = "PENDING"
)

// Type distinguishes pre-sale questions from post-sale claims.
type Type string

const (
	TypePostOrder Type = "POST_ORDER"
	TypePreOrder  Type = "PRE_ORDER"
)

// Ticket is a normalized helpdesk ticket. It is read-only to the pipeline:
// never mutated, only enriched with derived columns downstream.
type Ticket struct {
	ID              int64
	Status          Status
	Type            Type
	ClaimType       string
	ChannelDate     *time.Time
	CloseDate       *time.Time
	LastUpdate      *time.Time
	TargetSLA       *time.Time
	MerchantID      int64
	Channel         string
	TicketChannelID string
}

// Message is a normalized ticket message. WhoResponded is only meaningful
// for seller-side messages.
type Message struct {
	ID           int64
	TicketID     int64
	Text         string
	CreateDate   *time.Time
	Seller       bool
	WhoResponded *string
}

// Order is a normalized order reference reported by the helpdesk for a
// ticket.
type Order struct {
	ID             int64
	TicketID       int64
	CreationDate   *time.Time
	Status         string
	ChannelOrderID string
	InvoiceNumber  string
	InvoiceKey     string
}

// Record is the simplified ticket + last message + order row the pipeline
// carries from the join step onward. OrderID is nil when reconciliation found no
// reference match.
type Record struct {
	TicketID          int64
	Channel           string
	Type              Type
	Status            Status
	ChannelDate       *time.Time
	Message           string
	MessageDate       *time.Time
	Seller            bool
	WhoResponded      *string
	OrderID           *int64
	MerchantInvoiceID string
}

// ClassifiedRecord is a Record annotated with the topic model's output.
// TopicName is empty when the topic number has no entry in the name map.
type ClassifiedRecord struct {
	Record
	TopicNumber int
	TopicName   string
	Probability float64
}
