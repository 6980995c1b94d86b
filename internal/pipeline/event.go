package pipeline

import (
	"encoding/json"

	"github.com/telhawk-systems/auditflow/pkg/condition"
)

// event is a raw event parsed once and shared by every pipeline.
type event struct {
	raw      string
	doc      any
	parseErr error
}

func newEvent(raw string) event {
	doc, err := condition.Parse([]byte(raw))
	return event{raw: raw, doc: doc, parseErr: err}
}

// body is the transformer request body: the parsed event re-encoded from
// its original bytes so large numbers keep their precision.
func (e event) body() json.RawMessage {
	return json.RawMessage(e.raw)
}
