package listing

import (
	"strconv"

	"codice/core/types"
	"codice/crypto"
)

const (
	EventTypeDeployed = "listing.deployed"
	EventTypeListed   = "listing.listed"
	EventTypeClaimed  = "listing.claimed"
)

type DeployedEvent struct {
	Coordinator [20]byte
	FeeAccount  [20]byte
	FeePercent  uint64
}

func (DeployedEvent) EventType() string { return EventTypeDeployed }

func (e DeployedEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeDeployed, Attributes: map[string]string{
		"coordinator": crypto.FormatAddress(e.Coordinator),
		"feeAccount":  crypto.FormatAddress(e.FeeAccount),
		"feePercent":  strconv.FormatUint(e.FeePercent, 10),
	}}
}

// ListedEvent is emitted when a listing is created. Claimer is omitted for
// open listings.
type ListedEvent struct {
	Coordinator [20]byte
	ItemID      uint64
	Ledger      [20]byte
	TokenID     uint64
	Lister      [20]byte
	Claimer     [20]byte
	Price       string
}

func (ListedEvent) EventType() string { return EventTypeListed }

func (e ListedEvent) Event() *types.Event {
	attrs := map[string]string{
		"coordinator": crypto.FormatAddress(e.Coordinator),
		"itemId":      strconv.FormatUint(e.ItemID, 10),
		"nftContract": crypto.FormatAddress(e.Ledger),
		"tokenId":     strconv.FormatUint(e.TokenID, 10),
		"lister":      crypto.FormatAddress(e.Lister),
		"price":       e.Price,
	}
	if e.Claimer != ([20]byte{}) {
		attrs["claimer"] = crypto.FormatAddress(e.Claimer)
	}
	return &types.Event{Type: EventTypeListed, Attributes: attrs}
}

// ClaimedEvent is emitted once per listing after ownership moved and payment
// settled.
type ClaimedEvent struct {
	Coordinator [20]byte
	ItemID      uint64
	Ledger      [20]byte
	TokenID     uint64
	Lister      [20]byte
	Claimer     [20]byte
	Price       string
	Fee         string
}

func (ClaimedEvent) EventType() string { return EventTypeClaimed }

func (e ClaimedEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeClaimed, Attributes: map[string]string{
		"coordinator": crypto.FormatAddress(e.Coordinator),
		"itemId":      strconv.FormatUint(e.ItemID, 10),
		"nftContract": crypto.FormatAddress(e.Ledger),
		"tokenId":     strconv.FormatUint(e.TokenID, 10),
		"lister":      crypto.FormatAddress(e.Lister),
		"claimer":     crypto.FormatAddress(e.Claimer),
		"price":       e.Price,
		"fee":         e.Fee,
	}}
}
