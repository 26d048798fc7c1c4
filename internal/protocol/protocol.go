package protocol

import (
	"encoding/json"
	"fmt"
)

// Entry points the instrumented page can call. They are the only two ways
// across the automation boundary.
const (
	DeliverFunc = "__pickscrapeDeliver"
	AckFunc     = "__pickscrapeAck"
)

type Reason string

const (
	ReasonCommit Reason = "commit"
	ReasonCancel Reason = "cancel"
)

// SelectedElement is one DOM node snapshotted at click time.
type SelectedElement struct {
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	ID         string            `json:"id"`
	ClassName  string            `json:"className"`
	Attributes map[string]string `json:"attributes"`
	InnerHTML  string            `json:"innerHTML,omitempty"`
}

// Delivery is the payload of the deliver entry point. Only complete sets
// cross the boundary.
type Delivery struct {
	Reason   Reason            `json:"reason"`
	Elements []SelectedElement `json:"elements"`
}

func (d Delivery) Cancelled() bool {
	return d.Reason == ReasonCancel
}

func DecodeDelivery(raw json.RawMessage) (Delivery, error) {
	var d Delivery
	if len(raw) == 0 || string(raw) == "null" {
		return Delivery{Reason: ReasonCommit, Elements: []SelectedElement{}}, nil
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return Delivery{}, err
	}
	switch d.Reason {
	case "":
		d.Reason = ReasonCommit
	case ReasonCommit, ReasonCancel:
	default:
		return Delivery{}, fmt.Errorf("unknown delivery reason %q", d.Reason)
	}
	if d.Reason == ReasonCancel || d.Elements == nil {
		d.Elements = []SelectedElement{}
	}
	return d, nil
}
