package types

import (
	"fmt"
	"strconv"
)

// Event is the canonical form of a committed event: a type label plus string
// attributes. Indexers and webhooks consume this form.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Contract returns the ledger address the event refers to. Coordinator events
// carry it as nftContract.
func (e *Event) Contract() string {
	if e == nil {
		return ""
	}
	if ledger := e.Attributes["ledger"]; ledger != "" {
		return ledger
	}
	return e.Attributes["nftContract"]
}

// TokenID parses the tokenId attribute. ok is false when the event does not
// name a certificate.
func (e *Event) TokenID() (id uint64, ok bool, err error) {
	if e == nil {
		return 0, false, nil
	}
	raw, present := e.Attributes["tokenId"]
	if !present {
		return 0, false, nil
	}
	id, err = strconv.ParseUint(raw, 10, 63)
	if err != nil {
		return 0, false, fmt.Errorf("event %s: token id %q: %w", e.Type, raw, err)
	}
	return id, true, nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return &Event{Type: e.Type, Attributes: attrs}
}
