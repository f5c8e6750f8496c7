package rpc

import (
	"encoding/hex"

	"codice/core/types"
	"codice/crypto"
	"codice/native/certificate"
	"codice/native/listing"
)

type AccountResult struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	Balance string `json:"balance"`
}

// ReceiptResult reflects a committed transaction.
type ReceiptResult struct {
	TransactionHash string        `json:"transactionHash"`
	Type            string        `json:"type"`
	Sender          string        `json:"sender"`
	Contract        string        `json:"contract,omitempty"`
	TokenIDs        []uint64      `json:"tokenIds,omitempty"`
	ItemID          *uint64       `json:"itemId,omitempty"`
	Events          []types.Event `json:"events"`
}

type CollectionResult struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	BaseURI  string `json:"baseUri"`
	Deployer string `json:"deployer"`
	Minted   uint64 `json:"minted"`
}

type TokenResult struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	Value      string `json:"value"`
	Currency   string `json:"currency"`
	ArtistName string `json:"artistName"`
	ObjectName string `json:"objectName"`
	TokenURI   string `json:"tokenUri"`
	Approved   string `json:"approved,omitempty"`
}

type HistoryResult struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ListingResult struct {
	ID        uint64 `json:"id"`
	Ledger    string `json:"nftContract"`
	TokenID   uint64 `json:"tokenId"`
	Lister    string `json:"lister"`
	Claimer   string `json:"claimer,omitempty"`
	Price     string `json:"price"`
	IsClaimed bool   `json:"isClaimed"`
	ClaimedBy string `json:"claimedBy,omitempty"`
}

type FeesResult struct {
	FeeAccount string `json:"feeAccount"`
	FeePercent uint64 `json:"feePercent"`
}

// formatOptional renders the zero address as an empty string.
func formatOptional(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.FormatAddress(addr)
}

func receiptResult(r *types.Receipt) ReceiptResult {
	events := r.Events
	if events == nil {
		events = []types.Event{}
	}
	return ReceiptResult{
		TransactionHash: "0x" + hex.EncodeToString(r.TxHash[:]),
		Type:            r.Type.String(),
		Sender:          crypto.FormatAddress(r.Sender),
		Contract:        formatOptional(r.Contract),
		TokenIDs:        r.TokenIDs,
		ItemID:          r.ItemID,
		Events:          events,
	}
}

func collectionResult(c *certificate.Collection) CollectionResult {
	return CollectionResult{
		Address:  crypto.FormatAddress(c.Address),
		Name:     c.Name,
		Symbol:   c.Symbol,
		BaseURI:  c.BaseURI,
		Deployer: crypto.FormatAddress(c.Deployer),
		Minted:   c.Minted,
	}
}

func tokenResult(t *certificate.Token) TokenResult {
	value := "0"
	if t.Value != nil {
		value = t.Value.Dec()
	}
	return TokenResult{
		ID:         t.ID,
		Owner:      crypto.FormatAddress(t.Owner),
		Value:      value,
		Currency:   t.Currency.String(),
		ArtistName: t.ArtistName,
		ObjectName: t.ObjectName,
		TokenURI:   t.TokenURI,
		Approved:   formatOptional(t.Approved),
	}
}

func historyResult(entries []certificate.HistoryEntry) []HistoryResult {
	out := make([]HistoryResult, 0, len(entries))
	for _, entry := range entries {
		out = append(out, HistoryResult{
			From:     crypto.FormatAddress(entry.From),
			To:       crypto.FormatAddress(entry.To),
			Value:    entry.Value.Dec(),
			Currency: entry.Currency.String(),
		})
	}
	return out
}

func listingResult(l *listing.Listing) ListingResult {
	return ListingResult{
		ID:        l.ID,
		Ledger:    crypto.FormatAddress(l.Ledger),
		TokenID:   l.TokenID,
		Lister:    crypto.FormatAddress(l.Lister),
		Claimer:   formatOptional(l.Claimer),
		Price:     l.Price.String(),
		IsClaimed: l.IsClaimed,
		ClaimedBy: formatOptional(l.ClaimedBy),
	}
}
