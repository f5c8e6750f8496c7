package types

// Receipt summarises a committed transaction.
type Receipt struct {
	TxHash   [32]byte `json:"txHash"`
	Type     TxType   `json:"type"`
	Sender   [20]byte `json:"sender"`
	Contract [20]byte `json:"contract,omitempty"` // Address created by deploy transactions
	TokenIDs []uint64 `json:"tokenIds,omitempty"`
	ItemID   *uint64  `json:"itemId,omitempty"`
	Events   []Event  `json:"events"`
}
