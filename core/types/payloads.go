package types

// Transaction payloads carried in Transaction.Data. Addresses use the bech32
// encoding and amounts are base-10 strings so the JSON form stays lossless.

type DeployLedgerPayload struct {
	Name    string `json:"name,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	BaseURI string `json:"baseUri"`
}

type DeployCoordinatorPayload struct {
	FeePercent uint64 `json:"feePercent"`
}

type MintPayload struct {
	To         string `json:"to"`
	Value      string `json:"value"`
	Currency   string `json:"currency"`
	ArtistName string `json:"artistName"`
	ObjectName string `json:"objectName"`
	AuthURI    string `json:"authUri"`
}

type MintBatchPayload struct {
	To          string   `json:"to"`
	Currency    string   `json:"currency"`
	ArtistName  string   `json:"artistName"`
	Values      []string `json:"values"`
	ObjectNames []string `json:"objectNames"`
	AuthURIs    []string `json:"authUris"`
}

type TransferValuePayload struct {
	From        string `json:"from"`
	To          string `json:"to"`
	TokenID     uint64 `json:"tokenId"`
	NewValue    string `json:"newValue"`
	NewCurrency string `json:"newCurrency,omitempty"`
}

type ApprovePayload struct {
	To      string `json:"to"`
	TokenID uint64 `json:"tokenId"`
}

type ApprovalForAllPayload struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

// RolePayload names a role either by label (ADMIN, MINTER, AUTHENTICATOR) or
// by its 0x-prefixed 32-byte identifier.
type RolePayload struct {
	Role    string `json:"role"`
	Account string `json:"account,omitempty"`
}

type ListPayload struct {
	Ledger  string `json:"ledger"`
	TokenID uint64 `json:"tokenId"`
	Claimer string `json:"claimer,omitempty"`
	Price   string `json:"price,omitempty"`
}

type ClaimPayload struct {
	ItemID uint64 `json:"itemId"`
}
