package predize

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
)

// ID is a numeric identifier that the helpdesk API serializes sometimes as a
// JSON number and sometimes as a string.
type ID int64

// UnmarshalJSON accepts both `123` and `"123"`.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return eris.Wrapf(err, "predize: parse id %q", string(data))
	}
	*id = ID(n)
	return nil
}

// Int64 returns the identifier as an int64.
func (id ID) Int64() int64 { return int64(id) }

// ChannelAccount identifies the marketplace integration a ticket came from.
// ID doubles as the internal merchant id.
type ChannelAccount struct {
	ID      int64  `json:"id"`
	Channel string `json:"channel"`
}

// Ticket is the raw ticket payload returned by GET /v1/tickets.
// Timestamps are kept as wire strings; parsing (including the zero-date
// sentinels) is the normalizer's job.
type Ticket struct {
	ID              ID             `json:"id"`
	Status          string         `json:"status"`
	Type            string         `json:"type"`
	ClaimType       *string        `json:"claimType"`
	ChannelDate     string         `json:"channelDate"`
	CloseDate       *string        `json:"closeDate"`
	LastUpdate      string         `json:"lastUpdate"`
	TargetSLA       *string        `json:"targetSla"`
	ChannelAccount  ChannelAccount `json:"channelAccount"`
	TicketChannelID *string        `json:"ticketChannelId"`
}

// PageMeta carries pagination info common to list endpoints.
type PageMeta struct {
	CurrentPage int `json:"currentPage"`
	ItemCount   int `json:"itemCount"`
	TotalItems  int `json:"totalItems"`
	TotalPages  int `json:"totalPages"`
}

// TicketPage is the response from GET /v1/tickets.
type TicketPage struct {
	Items []Ticket `json:"items"`
	Meta  PageMeta `json:"meta"`
}

// Message is the raw message payload from GET /v1/tickets/{id}/messages.
type Message struct {
	ID           ID      `json:"id"`
	TicketID     ID      `json:"ticketId"`
	Text         string  `json:"message"`
	CreateDate   string  `json:"createDate"`
	Seller       bool    `json:"seller"`
	WhoResponded *string `json:"whoResponded"`
}

// MessagePage is the response from GET /v1/tickets/{id}/messages.
type MessagePage struct {
	Items []Message `json:"items"`
	Meta  PageMeta  `json:"meta"`
}

// Order is the raw order payload from GET /v1/tickets/{id}/order.
type Order struct {
	Code           ID      `json:"code"`
	CreationDate   string  `json:"creationDate"`
	Status         string  `json:"status"`
	ChannelOrderID string  `json:"channelOrderId"`
	InvoiceNumber  *string `json:"invoiceNumber"`
	InvoiceKey     *string `json:"invoiceKey"`
}

// TicketQuery holds the filters accepted by GET /v1/tickets. Zero values are
// omitted from the request.
type TicketQuery struct {
	Page            int
	Limit           int
	Status          string
	Type            string
	ClaimType       string
	GreaterThanDate string
	LessThanDate    string
	LastMessageFrom string
	LastMessageTo   string
}

// tokenPair is the response from the login and refresh endpoints.
type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// envelope is the structured error shape the API embeds in response bodies,
// independently of the HTTP status code.
type envelope struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	ErrorName  string `json:"error"`
}

func parseEnvelope(body []byte) envelope {
	var env envelope
	_ = json.Unmarshal(body, &env)
	return env
}
