package certificate

import (
	"strconv"

	"codice/core/types"
	"codice/crypto"
)

const (
	EventTypeDeployed       = "certificate.deployed"
	EventTypeMinted         = "certificate.minted"
	EventTypeTransfer       = "certificate.transfer"
	EventTypeValueTransfer  = "certificate.value_transfer"
	EventTypeApproval       = "certificate.approval"
	EventTypeApprovalForAll = "certificate.approval_for_all"
	EventTypeRoleGranted    = "certificate.role_granted"
	EventTypeRoleRevoked    = "certificate.role_revoked"
)

// DeployedEvent is emitted once when a ledger is created.
type DeployedEvent struct {
	Ledger   [20]byte
	Deployer [20]byte
	Name     string
	Symbol   string
	BaseURI  string
}

func (DeployedEvent) EventType() string { return EventTypeDeployed }

func (e DeployedEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeDeployed, Attributes: map[string]string{
		"ledger":   crypto.FormatAddress(e.Ledger),
		"deployer": crypto.FormatAddress(e.Deployer),
		"name":     e.Name,
		"symbol":   e.Symbol,
		"baseUri":  e.BaseURI,
	}}
}

// MintedEvent carries the id and descriptive names of a new certificate.
type MintedEvent struct {
	Ledger     [20]byte
	TokenID    uint64
	ArtistName string
	ObjectName string
}

func (MintedEvent) EventType() string { return EventTypeMinted }

func (e MintedEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeMinted, Attributes: map[string]string{
		"ledger":     crypto.FormatAddress(e.Ledger),
		"tokenId":    strconv.FormatUint(e.TokenID, 10),
		"artistName": e.ArtistName,
		"objectName": e.ObjectName,
	}}
}

// TransferEvent is the generic ownership change notification. Mints are
// reported with a zero From address.
type TransferEvent struct {
	Ledger  [20]byte
	From    [20]byte
	To      [20]byte
	TokenID uint64
}

func (TransferEvent) EventType() string { return EventTypeTransfer }

func (e TransferEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"ledger":  crypto.FormatAddress(e.Ledger),
		"from":    crypto.FormatAddress(e.From),
		"to":      crypto.FormatAddress(e.To),
		"tokenId": strconv.FormatUint(e.TokenID, 10),
	}}
}

// ValueTransferEvent accompanies every TransferEvent raised by
// TransferWithValue and carries the new valuation.
type ValueTransferEvent struct {
	Ledger   [20]byte
	From     [20]byte
	To       [20]byte
	TokenID  uint64
	Value    string
	Currency Currency
}

func (ValueTransferEvent) EventType() string { return EventTypeValueTransfer }

func (e ValueTransferEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeValueTransfer, Attributes: map[string]string{
		"ledger":   crypto.FormatAddress(e.Ledger),
		"from":     crypto.FormatAddress(e.From),
		"to":       crypto.FormatAddress(e.To),
		"tokenId":  strconv.FormatUint(e.TokenID, 10),
		"value":    e.Value,
		"currency": e.Currency.String(),
	}}
}

type ApprovalEvent struct {
	Ledger   [20]byte
	Owner    [20]byte
	Approved [20]byte
	TokenID  uint64
}

func (ApprovalEvent) EventType() string { return EventTypeApproval }

func (e ApprovalEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeApproval, Attributes: map[string]string{
		"ledger":   crypto.FormatAddress(e.Ledger),
		"owner":    crypto.FormatAddress(e.Owner),
		"approved": crypto.FormatAddress(e.Approved),
		"tokenId":  strconv.FormatUint(e.TokenID, 10),
	}}
}

type ApprovalForAllEvent struct {
	Ledger   [20]byte
	Owner    [20]byte
	Operator [20]byte
	Approved bool
}

func (ApprovalForAllEvent) EventType() string { return EventTypeApprovalForAll }

func (e ApprovalForAllEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeApprovalForAll, Attributes: map[string]string{
		"ledger":   crypto.FormatAddress(e.Ledger),
		"owner":    crypto.FormatAddress(e.Owner),
		"operator": crypto.FormatAddress(e.Operator),
		"approved": strconv.FormatBool(e.Approved),
	}}
}

// RoleEvent reports a membership change. Sender is the account that
// performed the change.
type RoleEvent struct {
	Type    string
	Ledger  [20]byte
	Role    RoleID
	Account [20]byte
	Sender  [20]byte
}

func (e RoleEvent) EventType() string { return e.Type }

func (e RoleEvent) Event() *types.Event {
	return &types.Event{Type: e.Type, Attributes: map[string]string{
		"ledger":  crypto.FormatAddress(e.Ledger),
		"role":    e.Role.String(),
		"roleId":  e.Role.Hex(),
		"account": crypto.FormatAddress(e.Account),
		"sender":  crypto.FormatAddress(e.Sender),
	}}
}
