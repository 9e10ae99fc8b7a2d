package topic

import (
	"github.com/rotisserie/eris"

	"github.com/nocnoc-data/predize-sync/internal/ticket"
)

// Annotate attaches model predictions to simplified records positionally:
// preds[i] belongs to records[i]. Unmapped topic numbers get an empty name.
func Annotate(records []ticket.Record, preds []Prediction, names NameMap) ([]ticket.ClassifiedRecord, error) {
	if len(records) != len(preds) {
		return nil, eris.Errorf("topic: %d records but %d predictions", len(records), len(preds))
	}
	out := make([]ticket.ClassifiedRecord, len(records))
	for i, rec := range records {
		name, _ := names.Lookup(preds[i].Topic)
		out[i] = ticket.ClassifiedRecord{
			Record:      rec,
			TopicNumber: preds[i].Topic,
			TopicName:   name,
			Probability: preds[i].Probability,
		}
	}
	return out, nil
}
