package certificate

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"codice/core/events"
	"codice/crypto"
)

var (
	ErrNilState             = errors.New("certificate engine: state not configured")
	ErrCollectionNotFound   = errors.New("certificate engine: collection not found")
	ErrCollectionExists     = errors.New("certificate engine: collection already deployed")
	ErrInvalidToken         = errors.New("certificate engine: invalid token ID")
	ErrNotOwnerOrApproved   = errors.New("certificate engine: caller is not token owner or approved")
	ErrIncorrectOwner       = errors.New("certificate engine: transfer from incorrect owner")
	ErrZeroAddress          = errors.New("certificate engine: zero address")
	ErrAuthenticationDenied = errors.New("certificate engine: must be owner or registered authenticator")
	ErrMissingRole          = errors.New("certificate engine: missing role")
	ErrInvalidCurrency      = errors.New("certificate engine: invalid currency code")
	ErrInvalidBatch         = errors.New("certificate engine: invalid batch")
	ErrApproveToOwner       = errors.New("certificate engine: approval to current owner")
	ErrApproveToCaller      = errors.New("certificate engine: approve to caller")
)

// MissingRoleError identifies the account and role that failed an access
// check. It matches ErrMissingRole with errors.Is.
type MissingRoleError struct {
	Account [20]byte
	Role    RoleID
}

func (e *MissingRoleError) Error() string {
	return fmt.Sprintf("certificate engine: account %s is missing role %s", crypto.FormatAddress(e.Account), e.Role)
}

func (e *MissingRoleError) Unwrap() error { return ErrMissingRole }

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVGetList(key []byte, out interface{}) error
	SetRole(scope []byte, role [32]byte, addr []byte) (bool, error)
	RemoveRole(scope []byte, role [32]byte, addr []byte) (bool, error)
	HasRole(scope []byte, role [32]byte, addr []byte) bool
	RoleMembers(scope []byte, role [32]byte) ([][]byte, error)
	Snapshot() int
	RevertToSnapshot(id int)
}

type storedCollection struct {
	Name     string
	Symbol   string
	BaseURI  string
	Deployer [20]byte
	Minted   uint64
}

type storedToken struct {
	Owner      [20]byte
	Value      *big.Int
	Currency   [4]byte
	ArtistName string
	ObjectName string
	AuthURI    string
	Approved   [20]byte
}

type storedHistory struct {
	From     [20]byte
	To       [20]byte
	Value    *big.Int
	Currency [4]byte
}

// Engine executes certificate ledger operations for a single ledger address.
// Every mutating call either applies all of its writes and emits its events or
// leaves state untouched and emits nothing.
type Engine struct {
	state    engineState
	emitter  events.Emitter
	ledger   [20]byte
	maxBatch int
}

// NewEngine creates an engine bound to the ledger address with a no-op
// emitter.
func NewEngine(ledger [20]byte) *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		ledger:   ledger,
		maxBatch: DefaultMaxBatchSize,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMaxBatchSize bounds the number of certificates MintBatch may create.
func (e *Engine) SetMaxBatchSize(n int) {
	if n <= 0 {
		n = DefaultMaxBatchSize
	}
	e.maxBatch = n
}

// Address returns the ledger address the engine operates on.
func (e *Engine) Address() [20]byte { return e.ledger }

func (e *Engine) key(parts ...[]byte) []byte {
	buf := []byte("certificate/")
	buf = append(buf, e.ledger[:]...)
	for _, part := range parts {
		buf = append(buf, '/')
		buf = append(buf, part...)
	}
	return buf
}

func (e *Engine) collectionKey() []byte { return e.key([]byte("collection")) }

func (e *Engine) tokenKey(id uint64) []byte {
	return e.key([]byte("token"), []byte(strconv.FormatUint(id, 10)))
}

func (e *Engine) historyKey(id uint64) []byte {
	return e.key([]byte("history"), []byte(strconv.FormatUint(id, 10)))
}

func (e *Engine) balanceKey(owner [20]byte) []byte {
	return e.key([]byte("balance"), owner[:])
}

func (e *Engine) operatorKey(owner, operator [20]byte) []byte {
	return e.key([]byte("operator"), owner[:], operator[:])
}

// apply runs fn against a state snapshot and publishes the events it queued
// only when fn succeeds.
func (e *Engine) apply(fn func(emit func(events.Event)) error) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	snap := e.state.Snapshot()
	var pending []events.Event
	if err := fn(func(evt events.Event) { pending = append(pending, evt) }); err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	for _, evt := range pending {
		e.emitter.Emit(evt)
	}
	return nil
}

func (e *Engine) loadCollection() (*storedCollection, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	var stored storedCollection
	ok, err := e.state.KVGet(e.collectionKey(), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return &stored, nil
}

func (e *Engine) loadToken(id uint64) (*storedToken, error) {
	if _, err := e.loadCollection(); err != nil {
		return nil, err
	}
	var stored storedToken
	ok, err := e.state.KVGet(e.tokenKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidToken
	}
	if stored.Value == nil {
		stored.Value = big.NewInt(0)
	}
	return &stored, nil
}

func (e *Engine) balance(owner [20]byte) (uint64, error) {
	var count uint64
	if _, err := e.state.KVGet(e.balanceKey(owner), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (e *Engine) adjustBalance(owner [20]byte, delta int) error {
	count, err := e.balance(owner)
	if err != nil {
		return err
	}
	switch {
	case delta > 0:
		count += uint64(delta)
	case uint64(-delta) > count:
		return fmt.Errorf("certificate engine: balance underflow for %s", crypto.FormatAddress(owner))
	default:
		count -= uint64(-delta)
	}
	if count == 0 {
		return e.state.KVDelete(e.balanceKey(owner))
	}
	return e.state.KVPut(e.balanceKey(owner), count)
}

// Deploy creates the collection. The deployer becomes administrator and
// minter.
func (e *Engine) Deploy(deployer [20]byte, name, symbol, baseURI string) (*Collection, error) {
	if deployer == ([20]byte{}) {
		return nil, ErrZeroAddress
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	if strings.TrimSpace(symbol) == "" {
		symbol = DefaultSymbol
	}
	stored := storedCollection{Name: name, Symbol: symbol, BaseURI: baseURI, Deployer: deployer}
	err := e.apply(func(emit func(events.Event)) error {
		if ok, err := e.state.KVGet(e.collectionKey(), nil); err != nil {
			return err
		} else if ok {
			return ErrCollectionExists
		}
		if err := e.state.KVPut(e.collectionKey(), stored); err != nil {
			return err
		}
		emit(DeployedEvent{Ledger: e.ledger, Deployer: deployer, Name: name, Symbol: symbol, BaseURI: baseURI})
		for _, role := range []RoleID{AdminRole, MinterRole} {
			if err := e.grant(deployer, role, deployer, emit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.Collection()
}

// Collection returns the ledger metadata.
func (e *Engine) Collection() (*Collection, error) {
	stored, err := e.loadCollection()
	if err != nil {
		return nil, err
	}
	return &Collection{
		Address:  e.ledger,
		Name:     stored.Name,
		Symbol:   stored.Symbol,
		BaseURI:  stored.BaseURI,
		Deployer: stored.Deployer,
		Minted:   stored.Minted,
	}, nil
}

// MintedTokens returns the number of certificates ever created. Ids are
// assigned sequentially from zero so this is also the next id.
func (e *Engine) MintedTokens() (uint64, error) {
	stored, err := e.loadCollection()
	if err != nil {
		return 0, err
	}
	return stored.Minted, nil
}

// Mint creates a certificate owned by req.To. The caller needs the minter
// role.
func (e *Engine) Mint(caller [20]byte, req MintRequest) (uint64, error) {
	var id uint64
	err := e.apply(func(emit func(events.Event)) error {
		collection, err := e.loadCollection()
		if err != nil {
			return err
		}
		if err := e.requireRole(MinterRole, caller); err != nil {
			return err
		}
		if req.To == ([20]byte{}) {
			return ErrZeroAddress
		}
		if req.Currency.IsZero() {
			return ErrInvalidCurrency
		}
		id, err = e.mintOne(collection, req, emit)
		if err != nil {
			return err
		}
		return e.state.KVPut(e.collectionKey(), collection)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// MintBatch creates one certificate per entry of req.Values. All inputs are
// validated before anything is written.
func (e *Engine) MintBatch(caller [20]byte, req BatchMintRequest) ([]uint64, error) {
	var ids []uint64
	err := e.apply(func(emit func(events.Event)) error {
		collection, err := e.loadCollection()
		if err != nil {
			return err
		}
		if err := e.requireRole(MinterRole, caller); err != nil {
			return err
		}
		n := len(req.Values)
		if n == 0 || n > e.maxBatch {
			return fmt.Errorf("%w: size %d outside 1..%d", ErrInvalidBatch, n, e.maxBatch)
		}
		if len(req.ObjectNames) != n || len(req.AuthURIs) != n {
			return fmt.Errorf("%w: %d values, %d object names, %d auth URIs", ErrInvalidBatch, n, len(req.ObjectNames), len(req.AuthURIs))
		}
		if req.To == ([20]byte{}) {
			return ErrZeroAddress
		}
		if req.Currency.IsZero() {
			return ErrInvalidCurrency
		}
		ids = make([]uint64, 0, n)
		for i := 0; i < n; i++ {
			id, err := e.mintOne(collection, MintRequest{
				To:         req.To,
				Value:      req.Values[i],
				Currency:   req.Currency,
				ArtistName: req.ArtistName,
				ObjectName: req.ObjectNames[i],
				AuthURI:    req.AuthURIs[i],
			}, emit)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return e.state.KVPut(e.collectionKey(), collection)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *Engine) mintOne(collection *storedCollection, req MintRequest, emit func(events.Event)) (uint64, error) {
	id := collection.Minted
	token := storedToken{
		Owner:      req.To,
		Value:      cloneValue(req.Value).ToBig(),
		Currency:   req.Currency,
		ArtistName: req.ArtistName,
		ObjectName: req.ObjectName,
		AuthURI:    req.AuthURI,
	}
	if err := e.state.KVPut(e.tokenKey(id), token); err != nil {
		return 0, err
	}
	if err := e.adjustBalance(req.To, 1); err != nil {
		return 0, err
	}
	collection.Minted++
	emit(TransferEvent{Ledger: e.ledger, To: req.To, TokenID: id})
	emit(MintedEvent{Ledger: e.ledger, TokenID: id, ArtistName: req.ArtistName, ObjectName: req.ObjectName})
	return id, nil
}

// TransferWithValue moves a certificate from req.From to req.To and records
// the new valuation. Authorisation and ownership are evaluated against the
// state at execution time.
func (e *Engine) TransferWithValue(caller [20]byte, req TransferRequest) error {
	return e.apply(func(emit func(events.Event)) error {
		token, err := e.loadToken(req.TokenID)
		if err != nil {
			return err
		}
		authorised := caller == req.From || (token.Approved != ([20]byte{}) && caller == token.Approved)
		if !authorised {
			if authorised, err = e.isApprovedForAll(req.From, caller); err != nil {
				return err
			}
		}
		if !authorised {
			return ErrNotOwnerOrApproved
		}
		if token.Owner != req.From {
			return ErrIncorrectOwner
		}
		if req.To == ([20]byte{}) {
			return ErrZeroAddress
		}

		value := cloneValue(req.NewValue)
		if !req.NewCurrency.IsZero() {
			token.Currency = req.NewCurrency
		}
		token.Owner = req.To
		token.Value = value.ToBig()
		token.Approved = [20]byte{}
		if err := e.state.KVPut(e.tokenKey(req.TokenID), token); err != nil {
			return err
		}
		if err := e.adjustBalance(req.From, -1); err != nil {
			return err
		}
		if err := e.adjustBalance(req.To, 1); err != nil {
			return err
		}
		var history []storedHistory
		if err := e.state.KVGetList(e.historyKey(req.TokenID), &history); err != nil {
			return err
		}
		history = append(history, storedHistory{From: req.From, To: req.To, Value: token.Value, Currency: token.Currency})
		if err := e.state.KVPut(e.historyKey(req.TokenID), history); err != nil {
			return err
		}
		emit(TransferEvent{Ledger: e.ledger, From: req.From, To: req.To, TokenID: req.TokenID})
		emit(ValueTransferEvent{
			Ledger:   e.ledger,
			From:     req.From,
			To:       req.To,
			TokenID:  req.TokenID,
			Value:    value.Dec(),
			Currency: Currency(token.Currency),
		})
		return nil
	})
}

// Approve sets the single-token operator. A zero address clears it.
func (e *Engine) Approve(caller, to [20]byte, id uint64) error {
	return e.apply(func(emit func(events.Event)) error {
		token, err := e.loadToken(id)
		if err != nil {
			return err
		}
		if to == token.Owner {
			return ErrApproveToOwner
		}
		if caller != token.Owner {
			ok, err := e.isApprovedForAll(token.Owner, caller)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNotOwnerOrApproved
			}
		}
		token.Approved = to
		if err := e.state.KVPut(e.tokenKey(id), token); err != nil {
			return err
		}
		emit(ApprovalEvent{Ledger: e.ledger, Owner: token.Owner, Approved: to, TokenID: id})
		return nil
	})
}

// SetApprovalForAll grants or revokes operator authority over every
// certificate the caller owns, now or later.
func (e *Engine) SetApprovalForAll(caller, operator [20]byte, approved bool) error {
	return e.apply(func(emit func(events.Event)) error {
		if _, err := e.loadCollection(); err != nil {
			return err
		}
		if operator == ([20]byte{}) {
			return ErrZeroAddress
		}
		if operator == caller {
			return ErrApproveToCaller
		}
		var err error
		if approved {
			err = e.state.KVPut(e.operatorKey(caller, operator), true)
		} else {
			err = e.state.KVDelete(e.operatorKey(caller, operator))
		}
		if err != nil {
			return err
		}
		emit(ApprovalForAllEvent{Ledger: e.ledger, Owner: caller, Operator: operator, Approved: approved})
		return nil
	})
}

func (e *Engine) isApprovedForAll(owner, operator [20]byte) (bool, error) {
	var approved bool
	ok, err := e.state.KVGet(e.operatorKey(owner, operator), &approved)
	if err != nil {
		return false, err
	}
	return ok && approved, nil
}

// TokenInfo returns the public certificate record.
func (e *Engine) TokenInfo(id uint64) (*Token, error) {
	stored, err := e.loadToken(id)
	if err != nil {
		return nil, err
	}
	uri, err := e.TokenURI(id)
	if err != nil {
		return nil, err
	}
	value, _ := uint256.FromBig(stored.Value)
	return &Token{
		ID:         id,
		Owner:      stored.Owner,
		Value:      value,
		Currency:   Currency(stored.Currency),
		ArtistName: stored.ArtistName,
		ObjectName: stored.ObjectName,
		TokenURI:   uri,
		Approved:   stored.Approved,
	}, nil
}

// ValueHistory returns every transfer recorded for the certificate in order.
// Minting does not create an entry.
func (e *Engine) ValueHistory(id uint64) ([]HistoryEntry, error) {
	if _, err := e.loadToken(id); err != nil {
		return nil, err
	}
	var stored []storedHistory
	if err := e.state.KVGetList(e.historyKey(id), &stored); err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(stored))
	for _, entry := range stored {
		value, _ := uint256.FromBig(entry.Value)
		out = append(out, HistoryEntry{From: entry.From, To: entry.To, Value: cloneValue(value), Currency: Currency(entry.Currency)})
	}
	return out, nil
}

// TokenURI derives the public metadata pointer from the base URI and id.
func (e *Engine) TokenURI(id uint64) (string, error) {
	collection, err := e.loadCollection()
	if err != nil {
		return "", err
	}
	if collection.BaseURI == "" {
		return "", nil
	}
	return collection.BaseURI + strconv.FormatUint(id, 10), nil
}

func (e *Engine) OwnerOf(id uint64) ([20]byte, error) {
	stored, err := e.loadToken(id)
	if err != nil {
		return [20]byte{}, err
	}
	return stored.Owner, nil
}

func (e *Engine) ValueOf(id uint64) (*uint256.Int, error) {
	stored, err := e.loadToken(id)
	if err != nil {
		return nil, err
	}
	value, _ := uint256.FromBig(stored.Value)
	return cloneValue(value), nil
}

func (e *Engine) GetApproved(id uint64) ([20]byte, error) {
	stored, err := e.loadToken(id)
	if err != nil {
		return [20]byte{}, err
	}
	return stored.Approved, nil
}

func (e *Engine) IsApprovedForAll(owner, operator [20]byte) (bool, error) {
	if _, err := e.loadCollection(); err != nil {
		return false, err
	}
	return e.isApprovedForAll(owner, operator)
}

// BalanceOf returns the number of certificates held by owner.
func (e *Engine) BalanceOf(owner [20]byte) (uint64, error) {
	if owner == ([20]byte{}) {
		return 0, ErrZeroAddress
	}
	if _, err := e.loadCollection(); err != nil {
		return 0, err
	}
	return e.balance(owner)
}

// AuthenticateToken returns the gated document pointer when caller currently
// owns the certificate or holds the authenticator role.
func (e *Engine) AuthenticateToken(caller [20]byte, id uint64) (string, error) {
	stored, err := e.loadToken(id)
	if err != nil {
		return "", err
	}
	if caller != stored.Owner && !e.state.HasRole(e.ledger[:], AuthenticatorRole, caller[:]) {
		return "", ErrAuthenticationDenied
	}
	return stored.AuthURI, nil
}
