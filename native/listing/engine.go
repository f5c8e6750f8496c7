package listing

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"codice/core/events"
	"codice/core/types"
	"codice/native/certificate"
)

var (
	ErrNilState            = errors.New("listing engine: state not configured")
	ErrNilResolver         = errors.New("listing engine: ledger resolver not configured")
	ErrCoordinatorNotFound = errors.New("listing engine: coordinator not found")
	ErrCoordinatorExists   = errors.New("listing engine: coordinator already deployed")
	ErrInvalidFeePercent   = errors.New("listing engine: fee percent must be between 0 and 100")
	ErrZeroAddress         = errors.New("listing engine: zero address")
	ErrNotTokenOwner       = errors.New("listing engine: account is not token owner")
	ErrNotApproved         = errors.New("listing engine: contract must be approved by token owner")
	ErrInvalidClaimer      = errors.New("listing engine: claimer must differ from lister")
	ErrInvalidPrice        = errors.New("listing engine: price must not be negative")
	ErrListingNotFound     = errors.New("listing engine: listing not found")
	ErrAlreadyClaimed      = errors.New("listing engine: already claimed")
	ErrNotClaimer          = errors.New("listing engine: caller is not the designated claimer")
	ErrInsufficientPayment = errors.New("listing engine: payment below listing price")
	ErrInsufficientFunds   = errors.New("listing engine: insufficient funds")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	GetAccount(addr []byte) (*types.Account, error)
	TransferBalance(from, to []byte, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(id int)
}

type storedCoordinator struct {
	FeeAccount [20]byte
	FeePercent uint64
	Listed     uint64
}

type storedListing struct {
	Ledger    [20]byte
	TokenID   uint64
	Lister    [20]byte
	Claimer   [20]byte
	Price     *big.Int
	Claimed   bool
	ClaimedBy [20]byte
}

// Engine coordinates escrow-style certificate handoffs for a single
// coordinator address. It never owns certificate state; ownership is read and
// moved through the Ledger capability.
type Engine struct {
	state       engineState
	emitter     events.Emitter
	resolve     LedgerResolver
	coordinator [20]byte
}

// NewEngine creates an engine bound to the coordinator address with a no-op
// emitter.
func NewEngine(coordinator [20]byte) *Engine {
	return &Engine{emitter: events.NoopEmitter{}, coordinator: coordinator}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedgerResolver configures how ledger addresses are turned into ledgers.
func (e *Engine) SetLedgerResolver(resolve LedgerResolver) { e.resolve = resolve }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Address returns the coordinator address.
func (e *Engine) Address() [20]byte { return e.coordinator }

func (e *Engine) coordinatorKey() []byte {
	return append(append([]byte("listing/"), e.coordinator[:]...), "/coordinator"...)
}

func (e *Engine) itemKey(id uint64) []byte {
	key := append([]byte("listing/"), e.coordinator[:]...)
	key = append(key, "/item/"...)
	return append(key, strconv.FormatUint(id, 10)...)
}

func (e *Engine) loadCoordinator() (*storedCoordinator, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	var stored storedCoordinator
	ok, err := e.state.KVGet(e.coordinatorKey(), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCoordinatorNotFound
	}
	return &stored, nil
}

func (e *Engine) loadListing(id uint64) (*storedListing, error) {
	var stored storedListing
	ok, err := e.state.KVGet(e.itemKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	if stored.Price == nil {
		stored.Price = big.NewInt(0)
	}
	return &stored, nil
}

func (e *Engine) ledger(addr [20]byte) (Ledger, error) {
	if e.resolve == nil {
		return nil, ErrNilResolver
	}
	return e.resolve(addr)
}

// Deploy creates the coordinator. The deployer becomes the fee account and
// feePercent is fixed for the coordinator's lifetime.
func (e *Engine) Deploy(deployer [20]byte, feePercent uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if deployer == ([20]byte{}) {
		return ErrZeroAddress
	}
	if feePercent > MaxFeePercent {
		return ErrInvalidFeePercent
	}
	if ok, err := e.state.KVGet(e.coordinatorKey(), nil); err != nil {
		return err
	} else if ok {
		return ErrCoordinatorExists
	}
	if err := e.state.KVPut(e.coordinatorKey(), storedCoordinator{FeeAccount: deployer, FeePercent: feePercent}); err != nil {
		return err
	}
	e.emitter.Emit(DeployedEvent{Coordinator: e.coordinator, FeeAccount: deployer, FeePercent: feePercent})
	return nil
}

// checkListable verifies, against live ledger state, that lister owns the
// token and the coordinator may move it.
func (e *Engine) checkListable(ledger Ledger, tokenID uint64, lister [20]byte) error {
	owner, err := ledger.OwnerOf(tokenID)
	if err != nil {
		return err
	}
	if owner != lister {
		return ErrNotTokenOwner
	}
	approved, err := ledger.GetApproved(tokenID)
	if err != nil {
		return err
	}
	if approved == e.coordinator {
		return nil
	}
	operator, err := ledger.IsApprovedForAll(lister, e.coordinator)
	if err != nil {
		return err
	}
	if !operator {
		return ErrNotApproved
	}
	return nil
}

// List records a handoff of req.TokenID owned by caller. The caller must
// currently own the certificate and have approved the coordinator.
func (e *Engine) List(caller [20]byte, req ListRequest) (uint64, error) {
	coordinator, err := e.loadCoordinator()
	if err != nil {
		return 0, err
	}
	price := big.NewInt(0)
	if req.Price != nil {
		if req.Price.Sign() < 0 {
			return 0, ErrInvalidPrice
		}
		price.Set(req.Price)
	}
	ledger, err := e.ledger(req.Ledger)
	if err != nil {
		return 0, err
	}
	if err := e.checkListable(ledger, req.TokenID, caller); err != nil {
		return 0, err
	}
	if req.Claimer == caller {
		return 0, ErrInvalidClaimer
	}

	id := coordinator.Listed
	stored := storedListing{
		Ledger:  req.Ledger,
		TokenID: req.TokenID,
		Lister:  caller,
		Claimer: req.Claimer,
		Price:   price,
	}
	snap := e.state.Snapshot()
	if err := e.state.KVPut(e.itemKey(id), stored); err != nil {
		e.state.RevertToSnapshot(snap)
		return 0, err
	}
	coordinator.Listed++
	if err := e.state.KVPut(e.coordinatorKey(), coordinator); err != nil {
		e.state.RevertToSnapshot(snap)
		return 0, err
	}
	e.emitter.Emit(ListedEvent{
		Coordinator: e.coordinator,
		ItemID:      id,
		Ledger:      req.Ledger,
		TokenID:     req.TokenID,
		Lister:      caller,
		Claimer:     req.Claimer,
		Price:       price.String(),
	})
	return id, nil
}

// Claim completes listing itemID for caller. payment is the most the caller
// is willing to pay; exactly the listing price is charged. The listing is
// marked claimed only after the ledger transfer succeeded. Any later failure
// rolls every write back, and when the emitter is an events.Rewinder the
// events emitted since the ledger call are dropped as well.
func (e *Engine) Claim(caller [20]byte, itemID uint64, payment *big.Int) error {
	coordinator, err := e.loadCoordinator()
	if err != nil {
		return err
	}
	item, err := e.loadListing(itemID)
	if err != nil {
		return err
	}
	if item.Claimed {
		return ErrAlreadyClaimed
	}
	if item.Claimer != ([20]byte{}) && caller != item.Claimer {
		return ErrNotClaimer
	}
	if caller == item.Lister {
		return ErrInvalidClaimer
	}
	if payment == nil {
		payment = big.NewInt(0)
	}
	if payment.Cmp(item.Price) < 0 {
		return ErrInsufficientPayment
	}
	if item.Price.Sign() > 0 {
		account, err := e.state.GetAccount(caller[:])
		if err != nil {
			return err
		}
		if account.Balance == nil || account.Balance.Cmp(item.Price) < 0 {
			return ErrInsufficientFunds
		}
	}

	ledger, err := e.ledger(item.Ledger)
	if err != nil {
		return err
	}
	if err := e.checkListable(ledger, item.TokenID, item.Lister); err != nil {
		return err
	}
	value, err := ledger.ValueOf(item.TokenID)
	if err != nil {
		return err
	}

	fees := Fees{FeeAccount: coordinator.FeeAccount, FeePercent: coordinator.FeePercent}
	fee := fees.ComputeFee(item.Price)
	proceeds := new(big.Int).Sub(item.Price, fee)

	snap := e.state.Snapshot()
	rewind, _ := e.emitter.(events.Rewinder)
	mark := 0
	if rewind != nil {
		mark = rewind.Len()
	}
	fail := func(err error) error {
		e.state.RevertToSnapshot(snap)
		if rewind != nil {
			rewind.Truncate(mark)
		}
		return err
	}
	if err := ledger.TransferWithValue(e.coordinator, certificate.TransferRequest{
		From:     item.Lister,
		To:       caller,
		TokenID:  item.TokenID,
		NewValue: value,
	}); err != nil {
		return fail(fmt.Errorf("listing engine: ledger transfer: %w", err))
	}
	item.Claimed = true
	item.ClaimedBy = caller
	if err := e.state.KVPut(e.itemKey(itemID), item); err != nil {
		return fail(err)
	}
	if err := e.state.TransferBalance(caller[:], fees.FeeAccount[:], fee); err != nil {
		return fail(err)
	}
	if err := e.state.TransferBalance(caller[:], item.Lister[:], proceeds); err != nil {
		return fail(err)
	}
	e.emitter.Emit(ClaimedEvent{
		Coordinator: e.coordinator,
		ItemID:      itemID,
		Ledger:      item.Ledger,
		TokenID:     item.TokenID,
		Lister:      item.Lister,
		Claimer:     caller,
		Price:       item.Price.String(),
		Fee:         fee.String(),
	})
	return nil
}

// ListedItems returns the number of listings ever created.
func (e *Engine) ListedItems() (uint64, error) {
	coordinator, err := e.loadCoordinator()
	if err != nil {
		return 0, err
	}
	return coordinator.Listed, nil
}

// Item returns the listing with the given id.
func (e *Engine) Item(id uint64) (*Listing, error) {
	if _, err := e.loadCoordinator(); err != nil {
		return nil, err
	}
	stored, err := e.loadListing(id)
	if err != nil {
		return nil, err
	}
	return &Listing{
		ID:        id,
		Ledger:    stored.Ledger,
		TokenID:   stored.TokenID,
		Lister:    stored.Lister,
		Claimer:   stored.Claimer,
		Price:     new(big.Int).Set(stored.Price),
		IsClaimed: stored.Claimed,
		ClaimedBy: stored.ClaimedBy,
	}, nil
}

// Fees returns the coordinator's fee policy.
func (e *Engine) Fees() (Fees, error) {
	coordinator, err := e.loadCoordinator()
	if err != nil {
		return Fees{}, err
	}
	return Fees{FeeAccount: coordinator.FeeAccount, FeePercent: coordinator.FeePercent}, nil
}

func (e *Engine) FeeAccount() ([20]byte, error) {
	fees, err := e.Fees()
	return fees.FeeAccount, err
}

func (e *Engine) FeePercent() (uint64, error) {
	fees, err := e.Fees()
	return fees.FeePercent, err
}
