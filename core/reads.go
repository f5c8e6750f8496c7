package core

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"codice/core/events"
	"codice/core/state"
	"codice/core/types"
	"codice/native/certificate"
	"codice/native/listing"
)

func receiptKey(hash [32]byte) []byte {
	return append([]byte("receipt/"), hash[:]...)
}

// Receipts hold event attribute maps, which RLP cannot encode, so they are
// stored as JSON bytes.
func (n *Node) storeReceipt(mgr *state.Manager, receipt *types.Receipt) error {
	encoded, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return mgr.KVPut(receiptKey(receipt.TxHash), encoded)
}

// Receipt returns the receipt of a committed transaction.
func (n *Node) Receipt(hash [32]byte) (*types.Receipt, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var encoded []byte
	ok, err := state.NewManager(n.db).KVGet(receiptKey(hash), &encoded)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReceiptNotFound
	}
	var receipt types.Receipt
	if err := json.Unmarshal(encoded, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Account returns the committed account state for addr.
func (n *Node) Account(addr [20]byte) (*types.Account, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return state.NewManager(n.db).GetAccount(addr[:])
}

// Balance is a convenience wrapper over Account.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	account, err := n.Account(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(account.Balance), nil
}

// ContractKind reports which engine, if any, is deployed at addr.
func (n *Node) ContractKind(addr [20]byte) (state.ContractKind, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return state.NewManager(n.db).ContractKind(addr[:])
}

// WithLedger runs fn against a read-only view of the ledger at addr. Writes
// made by fn are discarded.
func (n *Node) WithLedger(addr [20]byte, fn func(*certificate.Engine) error) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	mgr := state.NewManager(n.db)
	defer mgr.Discard()
	if err := requireKind(mgr, addr, state.ContractLedger); err != nil {
		return err
	}
	return fn(n.certificateEngine(mgr, addr, events.NoopEmitter{}))
}

// WithCoordinator runs fn against a read-only view of the coordinator at addr.
func (n *Node) WithCoordinator(addr [20]byte, fn func(*listing.Engine) error) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	mgr := state.NewManager(n.db)
	defer mgr.Discard()
	if err := requireKind(mgr, addr, state.ContractCoordinator); err != nil {
		return err
	}
	return fn(n.listingEngine(mgr, addr, events.NoopEmitter{}))
}

// AuthenticateToken serves the gated authentication read. The caller is the
// signer of req, which must target this chain and be unexpired. Expiries
// further out than the configured TTL are refused so signed requests stay
// short-lived.
func (n *Node) AuthenticateToken(req *types.ReadRequest) (uri string, err error) {
	defer func() { n.metrics.ObserveAuthentication(err) }()

	if req == nil {
		return "", fmt.Errorf("%w: nil read request", ErrInvalidPayload)
	}
	if req.ChainID != n.chainID {
		return "", ErrInvalidChainID
	}
	now := n.now()
	expiry := time.Unix(req.Expiry, 0)
	if !expiry.After(now) {
		return "", ErrReadRequestExpired
	}
	if n.readTTL > 0 && expiry.Sub(now) > n.readTTL {
		return "", ErrReadRequestTooLong
	}
	caller, err := req.Caller()
	if err != nil {
		return "", fmt.Errorf("core: recover read request signer: %w", err)
	}
	err = n.WithLedger(req.Ledger, func(engine *certificate.Engine) error {
		var authErr error
		uri, authErr = engine.AuthenticateToken(caller, req.TokenID)
		return authErr
	})
	if err != nil {
		return "", err
	}
	return uri, nil
}
