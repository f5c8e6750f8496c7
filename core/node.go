package core

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"codice/core/events"
	"codice/core/state"
	"codice/core/types"
	"codice/native/certificate"
	"codice/native/common"
	"codice/native/listing"
	"codice/observability/metrics"
	"codice/storage"
)

var (
	ErrNilTransaction      = errors.New("core: nil transaction")
	ErrInvalidChainID      = errors.New("core: transaction chain id mismatch")
	ErrInvalidNonce        = errors.New("core: invalid nonce")
	ErrUnknownTxType       = errors.New("core: unknown transaction type")
	ErrInvalidPayload      = errors.New("core: invalid transaction payload")
	ErrUnexpectedValue     = errors.New("core: transaction type does not accept value")
	ErrContractNotFound    = errors.New("core: contract not found")
	ErrNotLedger           = errors.New("core: address is not a certificate ledger")
	ErrNotCoordinator      = errors.New("core: address is not a listing coordinator")
	ErrReadRequestExpired  = errors.New("core: read request expired")
	ErrReadRequestTooLong  = errors.New("core: read request expiry too far in the future")
	ErrReceiptNotFound     = errors.New("core: receipt not found")
	ErrInsufficientBalance = state.ErrInsufficientBalance
)

var genesisKey = []byte("genesis/applied")

// Option configures a Node.
type Option func(*Node)

func WithChainID(id uint64) Option { return func(n *Node) { n.chainID = id } }

func WithPauses(p common.PauseView) Option { return func(n *Node) { n.pauses = p } }

func WithQuota(q common.Quota) Option { return func(n *Node) { n.quota = q } }

func WithMaxBatchSize(size int) Option { return func(n *Node) { n.maxBatch = size } }

func WithReadRequestTTL(ttl time.Duration) Option { return func(n *Node) { n.readTTL = ttl } }

func WithLogger(logger *slog.Logger) Option { return func(n *Node) { n.logger = logger } }

func WithMetrics(m *metrics.LedgerMetrics) Option { return func(n *Node) { n.metrics = m } }

// WithNowFunc overrides the clock used for quota epochs and read request
// expiry.
func WithNowFunc(now func() time.Time) Option { return func(n *Node) { n.now = now } }

// Node executes signed transactions one at a time against the store. Each
// transaction runs on its own state overlay: it is committed in a single batch
// when every step succeeds and discarded otherwise. Events are published to
// subscribers only after the commit.
type Node struct {
	db       storage.Database
	mu       sync.RWMutex
	chainID  uint64
	pauses   common.PauseView
	quota    common.Quota
	maxBatch int
	readTTL  time.Duration
	logger   *slog.Logger
	metrics  *metrics.LedgerMetrics
	now      func() time.Time

	subscribers events.Fanout
}

func NewNode(db storage.Database, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	n := &Node{
		db:       db,
		chainID:  1,
		maxBatch: certificate.DefaultMaxBatchSize,
		readTTL:  5 * time.Minute,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	if n.chainID == 0 {
		return nil, fmt.Errorf("core: chain id must be non-zero")
	}
	return n, nil
}

func (n *Node) ChainID() uint64 { return n.chainID }

// Subscribe registers an emitter for committed events.
func (n *Node) Subscribe(emitter events.Emitter) { n.subscribers.Add(emitter) }

// ApplyGenesis credits the allocations the first time it runs against a
// store. Later calls are no-ops.
func (n *Node) ApplyGenesis(allocs map[[20]byte]*big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	mgr := state.NewManager(n.db)
	applied, err := mgr.KVGet(genesisKey, nil)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	addrs := make([][20]byte, 0, len(allocs))
	for addr := range allocs {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	for _, addr := range addrs {
		if err := mgr.Credit(addr[:], allocs[addr]); err != nil {
			mgr.Discard()
			return fmt.Errorf("core: genesis alloc: %w", err)
		}
	}
	if err := mgr.KVPut(genesisKey, true); err != nil {
		return err
	}
	if err := mgr.Commit(); err != nil {
		return err
	}
	n.logger.Info("genesis applied", slog.Int("allocations", len(addrs)))
	return nil
}

// ApplyTransaction verifies, executes and commits tx. On error nothing is
// written, the sender nonce is unchanged and no event is published.
func (n *Node) ApplyTransaction(tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, ErrNilTransaction
	}
	start := time.Now()
	receipt, err := n.applyTransaction(tx)
	n.metrics.ObserveTransaction(tx.Type.String(), time.Since(start), err)
	if err != nil {
		n.logger.Debug("transaction rejected",
			slog.String("txType", tx.Type.String()),
			slog.Uint64("nonce", tx.Nonce),
			slog.String("error", err.Error()))
		return nil, err
	}
	n.logger.Info("transaction applied",
		slog.String("txType", tx.Type.String()),
		slog.String("txHash", fmt.Sprintf("0x%x", receipt.TxHash)),
		slog.Int("events", len(receipt.Events)))
	return receipt, nil
}

func (n *Node) applyTransaction(tx *types.Transaction) (*types.Receipt, error) {
	if tx.ChainID != n.chainID {
		return nil, ErrInvalidChainID
	}
	from, err := tx.From()
	if err != nil {
		return nil, fmt.Errorf("core: recover sender: %w", err)
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	var sender [20]byte
	copy(sender[:], from)

	n.mu.Lock()
	defer n.mu.Unlock()

	mgr := state.NewManager(n.db)
	account, err := mgr.GetAccount(sender[:])
	if err != nil {
		return nil, err
	}
	if tx.Nonce != account.Nonce {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidNonce, account.Nonce, tx.Nonce)
	}

	buf := &events.Buffer{}
	receipt := &types.Receipt{Type: tx.Type, Sender: sender}
	copy(receipt.TxHash[:], hash)
	c := &txContext{mgr: mgr, emitter: buf, sender: sender, tx: tx, receipt: receipt}
	if err := n.execute(c); err != nil {
		mgr.Discard()
		return nil, err
	}

	// Execution may have credited the sender; reload before bumping the nonce.
	account, err = mgr.GetAccount(sender[:])
	if err != nil {
		mgr.Discard()
		return nil, err
	}
	account.Nonce++
	if err := mgr.PutAccount(sender[:], account); err != nil {
		mgr.Discard()
		return nil, err
	}

	emitted := buf.Events()
	receipt.Events = make([]types.Event, 0, len(emitted))
	for _, evt := range emitted {
		if payload := events.Canonical(evt); payload != nil {
			receipt.Events = append(receipt.Events, *payload)
		}
	}
	if err := n.storeReceipt(mgr, receipt); err != nil {
		mgr.Discard()
		return nil, err
	}
	if err := mgr.Commit(); err != nil {
		return nil, err
	}
	for _, evt := range emitted {
		n.metrics.ObserveEvent(evt.EventType())
	}
	switch tx.Type {
	case types.TxTypeMint, types.TxTypeMintBatch:
		n.metrics.AddMinted(len(receipt.TokenIDs))
	case types.TxTypeClaimListing:
		n.metrics.IncClaims()
	}
	buf.Flush(&n.subscribers)
	return receipt, nil
}

func (n *Node) certificateEngine(mgr *state.Manager, ledger [20]byte, emitter events.Emitter) *certificate.Engine {
	engine := certificate.NewEngine(ledger)
	engine.SetState(mgr)
	engine.SetEmitter(emitter)
	engine.SetMaxBatchSize(n.maxBatch)
	return engine
}

func (n *Node) listingEngine(mgr *state.Manager, coordinator [20]byte, emitter events.Emitter) *listing.Engine {
	engine := listing.NewEngine(coordinator)
	engine.SetState(mgr)
	engine.SetEmitter(emitter)
	engine.SetLedgerResolver(func(addr [20]byte) (listing.Ledger, error) {
		if err := requireKind(mgr, addr, state.ContractLedger); err != nil {
			return nil, err
		}
		return n.certificateEngine(mgr, addr, emitter), nil
	})
	return engine
}

func requireKind(mgr *state.Manager, addr [20]byte, want state.ContractKind) error {
	kind, err := mgr.ContractKind(addr[:])
	if err != nil {
		return err
	}
	switch {
	case kind == want:
		return nil
	case kind == state.ContractNone:
		return ErrContractNotFound
	case want == state.ContractLedger:
		return ErrNotLedger
	default:
		return ErrNotCoordinator
	}
}
