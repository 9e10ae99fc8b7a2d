package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nocnoc-data/predize-sync/internal/ticket"
)

func TestAnnotate(t *testing.T) {
	records := []ticket.Record{
		{TicketID: 101, Message: "cade meu pedido"},
		{TicketID: 102, Message: "produto com defeito"},
	}
	preds := []Prediction{
		{Topic: 3, Probability: 0.91},
		{Topic: 7, Probability: 0.55},
	}
	names := NameMap{3: "tracking"}

	out, err := Annotate(records, preds, names)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, int64(101), out[0].TicketID)
	assert.Equal(t, 3, out[0].TopicNumber)
	assert.Equal(t, "tracking", out[0].TopicName)
	assert.Equal(t, 0.91, out[0].Probability)

	assert.Equal(t, "", out[1].TopicName, "unmapped topics get an empty name")
	assert.Equal(t, 7, out[1].TopicNumber)
}

func TestAnnotate_LengthMismatch(t *testing.T) {
	_, err := Annotate([]ticket.Record{{TicketID: 1}}, nil, NameMap{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 records but 0 predictions")
}

func TestAnnotate_Empty(t *testing.T) {
	out, err := Annotate(nil, nil, NameMap{})
	require.NoError(t, err)
	assert.Empty(t, out)
}
