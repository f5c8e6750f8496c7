package core

import (
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"codice/core/events"
	"codice/core/state"
	"codice/core/types"
	"codice/crypto"
	"codice/native/certificate"
	"codice/native/common"
	"codice/native/listing"
	"codice/storage"
)

const testChainID = 42

type actor struct {
	key  *ecdsa.PrivateKey
	addr [20]byte
}

func newActor(t *testing.T) *actor {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return &actor{key: key, addr: [20]byte(ethcrypto.PubkeyToAddress(key.PublicKey))}
}

func (a *actor) bech32() string { return crypto.FormatAddress(a.addr) }

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

type testNode struct {
	*Node
	nonces map[[20]byte]uint64
	seen   *recorder
}

func newTestNode(t *testing.T, opts ...Option) *testNode {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := NewNode(db, append([]Option{WithChainID(testChainID)}, opts...)...)
	require.NoError(t, err)
	seen := &recorder{}
	node.Subscribe(seen)
	return &testNode{Node: node, nonces: make(map[[20]byte]uint64), seen: seen}
}

func (n *testNode) build(t *testing.T, from *actor, txType types.TxType, to [20]byte, value *big.Int, payload interface{}) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{ChainID: testChainID, Type: txType, Nonce: n.nonces[from.addr], Value: value}
	if to != ([20]byte{}) {
		tx.To = append([]byte(nil), to[:]...)
	}
	if payload != nil {
		require.NoError(t, tx.SetPayload(payload))
	}
	require.NoError(t, tx.Sign(from.key))
	return tx
}

func (n *testNode) send(t *testing.T, from *actor, txType types.TxType, to [20]byte, value *big.Int, payload interface{}) (*types.Receipt, error) {
	t.Helper()
	receipt, err := n.ApplyTransaction(n.build(t, from, txType, to, value, payload))
	if err == nil {
		n.nonces[from.addr]++
	}
	return receipt, err
}

func (n *testNode) mustSend(t *testing.T, from *actor, txType types.TxType, to [20]byte, value *big.Int, payload interface{}) *types.Receipt {
	t.Helper()
	receipt, err := n.send(t, from, txType, to, value, payload)
	require.NoError(t, err)
	return receipt
}

func (n *testNode) deployLedger(t *testing.T, from *actor) [20]byte {
	t.Helper()
	receipt := n.mustSend(t, from, types.TxTypeDeployLedger, [20]byte{}, nil,
		types.DeployLedgerPayload{BaseURI: "https://coa.example/token/"})
	return receipt.Contract
}

func (n *testNode) mint(t *testing.T, from *actor, ledger [20]byte, to *actor, value string) uint64 {
	t.Helper()
	receipt := n.mustSend(t, from, types.TxTypeMint, ledger, nil, types.MintPayload{
		To:         to.bech32(),
		Value:      value,
		Currency:   "USD",
		ArtistName: "Agnes Martin",
		ObjectName: "Friendship",
		AuthURI:    "ipfs://auth/friendship",
	})
	require.Len(t, receipt.TokenIDs, 1)
	return receipt.TokenIDs[0]
}

func TestDeployAndMintThroughTransactions(t *testing.T) {
	node := newTestNode(t)
	gallery, alice := newActor(t), newActor(t)

	ledger := node.deployLedger(t, gallery)
	require.Equal(t, contractAddress(gallery.addr, 0), ledger)
	kind, err := node.ContractKind(ledger)
	require.NoError(t, err)
	require.Equal(t, state.ContractLedger, kind)

	id := node.mint(t, gallery, ledger, alice, "500")
	require.Equal(t, uint64(0), id)

	require.NoError(t, node.WithLedger(ledger, func(engine *certificate.Engine) error {
		owner, err := engine.OwnerOf(id)
		require.NoError(t, err)
		require.Equal(t, alice.addr, owner)
		uri, err := engine.TokenURI(id)
		require.NoError(t, err)
		require.Equal(t, "https://coa.example/token/0", uri)
		return nil
	}))

	account, err := node.Account(gallery.addr)
	require.NoError(t, err)
	require.Equal(t, uint64(2), account.Nonce)

	require.Equal(t, []string{
		certificate.EventTypeDeployed,
		certificate.EventTypeRoleGranted,
		certificate.EventTypeRoleGranted,
		certificate.EventTypeTransfer,
		certificate.EventTypeMinted,
	}, filterPrefix(node.seen.types(), "certificate."))
}

func filterPrefix(in []string, prefix string) []string {
	var out []string
	for _, s := range in {
		if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			out = append(out, s)
		}
	}
	return out
}

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	node := newTestNode(t)
	gallery, alice, mallory := newActor(t), newActor(t), newActor(t)
	ledger := node.deployLedger(t, gallery)
	before := len(node.seen.types())

	_, err := node.send(t, mallory, types.TxTypeMint, ledger, nil, types.MintPayload{
		To: alice.bech32(), Value: "1", Currency: "EUR", ArtistName: "x", ObjectName: "y", AuthURI: "z",
	})
	require.ErrorIs(t, err, certificate.ErrMissingRole)

	account, err := node.Account(mallory.addr)
	require.NoError(t, err)
	require.Zero(t, account.Nonce, "nonce only advances on success")
	require.Len(t, node.seen.types(), before, "no events published for a failed transaction")

	require.NoError(t, node.WithLedger(ledger, func(engine *certificate.Engine) error {
		minted, err := engine.MintedTokens()
		require.NoError(t, err)
		require.Zero(t, minted)
		return nil
	}))
}

func TestNonceAndChainChecks(t *testing.T) {
	node := newTestNode(t)
	gallery := newActor(t)

	tx := node.build(t, gallery, types.TxTypeDeployLedger, [20]byte{}, nil, types.DeployLedgerPayload{})
	tx.Nonce = 5
	require.NoError(t, tx.Sign(gallery.key))
	_, err := node.ApplyTransaction(tx)
	require.ErrorIs(t, err, ErrInvalidNonce)

	tx = node.build(t, gallery, types.TxTypeDeployLedger, [20]byte{}, nil, types.DeployLedgerPayload{})
	tx.ChainID = 7
	require.NoError(t, tx.Sign(gallery.key))
	_, err = node.ApplyTransaction(tx)
	require.ErrorIs(t, err, ErrInvalidChainID)

	tx = node.build(t, gallery, types.TxTypeDeployLedger, [20]byte{}, nil, types.DeployLedgerPayload{})
	_, err = node.ApplyTransaction(tx)
	require.NoError(t, err)
	_, err = node.ApplyTransaction(tx)
	require.ErrorIs(t, err, ErrInvalidNonce, "replay is rejected")
}

func TestPayloadValidation(t *testing.T) {
	node := newTestNode(t)
	gallery, alice := newActor(t), newActor(t)
	ledger := node.deployLedger(t, gallery)

	_, err := node.send(t, gallery, types.TxTypeMint, ledger, nil, map[string]string{"unexpected": "1"})
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = node.send(t, gallery, types.TxTypeMint, ledger, nil, types.MintPayload{
		To: alice.bech32(), Value: "-3", Currency: "USD",
	})
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = node.send(t, gallery, types.TxTypeMint, ledger, big.NewInt(1), types.MintPayload{
		To: alice.bech32(), Value: "3", Currency: "USD",
	})
	require.ErrorIs(t, err, ErrUnexpectedValue)

	_, err = node.send(t, gallery, types.TxTypeMint, alice.addr, nil, types.MintPayload{
		To: alice.bech32(), Value: "3", Currency: "USD",
	})
	require.ErrorIs(t, err, ErrContractNotFound)

	_, err = node.send(t, gallery, types.TxType(0x7f), ledger, nil, nil)
	require.ErrorIs(t, err, ErrUnknownTxType)
}

func TestTransferValueKeepsStaleHistory(t *testing.T) {
	node := newTestNode(t)
	gallery, alice, bob, carol := newActor(t), newActor(t), newActor(t), newActor(t)
	ledger := node.deployLedger(t, gallery)
	id := node.mint(t, gallery, ledger, alice, "500")

	node.mustSend(t, alice, types.TxTypeTransferValue, ledger, nil, types.TransferValuePayload{
		From: alice.bech32(), To: bob.bech32(), TokenID: id, NewValue: "600",
	})
	node.mustSend(t, bob, types.TxTypeTransferValue, ledger, nil, types.TransferValuePayload{
		From: bob.bech32(), To: carol.bech32(), TokenID: id, NewValue: "700",
	})

	require.NoError(t, node.WithLedger(ledger, func(engine *certificate.Engine) error {
		history, err := engine.ValueHistory(id)
		require.NoError(t, err)
		require.Len(t, history, 2)
		require.Equal(t, "600", history[0].Value.Dec())
		require.Equal(t, "700", history[1].Value.Dec())
		value, err := engine.ValueOf(id)
		require.NoError(t, err)
		require.Equal(t, "700", value.Dec())
		return nil
	}))

	_, err := node.send(t, alice, types.TxTypeTransferValue, ledger, nil, types.TransferValuePayload{
		From: carol.bech32(), To: alice.bech32(), TokenID: id, NewValue: "1",
	})
	require.ErrorIs(t, err, certificate.ErrNotOwnerOrApproved)
}

func TestListingClaimSettlesBalances(t *testing.T) {
	node := newTestNode(t)
	gallery, alice, bob := newActor(t), newActor(t), newActor(t)
	require.NoError(t, node.ApplyGenesis(map[[20]byte]*big.Int{bob.addr: big.NewInt(1_000)}))

	ledger := node.deployLedger(t, gallery)
	coordinator := node.mustSend(t, gallery, types.TxTypeDeployCoordinator, [20]byte{}, nil,
		types.DeployCoordinatorPayload{FeePercent: 10}).Contract
	require.NotEqual(t, ledger, coordinator)
	id := node.mint(t, gallery, ledger, alice, "500")

	node.mustSend(t, alice, types.TxTypeSetApprovalForAll, ledger, nil, types.ApprovalForAllPayload{
		Operator: crypto.FormatAddress(coordinator), Approved: true,
	})
	listed := node.mustSend(t, alice, types.TxTypeListCertificate, coordinator, nil, types.ListPayload{
		Ledger: crypto.FormatAddress(ledger), TokenID: id, Price: "200",
	})
	require.NotNil(t, listed.ItemID)

	_, err := node.send(t, bob, types.TxTypeClaimListing, coordinator, big.NewInt(150), types.ClaimPayload{ItemID: *listed.ItemID})
	require.ErrorIs(t, err, listing.ErrInsufficientPayment)

	claimed := node.mustSend(t, bob, types.TxTypeClaimListing, coordinator, big.NewInt(200), types.ClaimPayload{ItemID: *listed.ItemID})
	var claimTypes []string
	for _, evt := range claimed.Events {
		claimTypes = append(claimTypes, evt.Type)
	}
	require.Equal(t, []string{
		certificate.EventTypeTransfer,
		certificate.EventTypeValueTransfer,
		listing.EventTypeClaimed,
	}, claimTypes)

	balance := func(a [20]byte) int64 {
		b, err := node.Balance(a)
		require.NoError(t, err)
		return b.Int64()
	}
	require.Equal(t, int64(800), balance(bob.addr))
	require.Equal(t, int64(180), balance(alice.addr))
	require.Equal(t, int64(20), balance(gallery.addr))

	stored, err := node.Receipt(claimed.TxHash)
	require.NoError(t, err)
	require.Equal(t, claimed.Events, stored.Events)

	require.NoError(t, node.WithCoordinator(coordinator, func(engine *listing.Engine) error {
		item, err := engine.Item(*listed.ItemID)
		require.NoError(t, err)
		require.True(t, item.IsClaimed)
		require.Equal(t, bob.addr, item.ClaimedBy)
		return nil
	}))
}

func TestGenesisIsIdempotent(t *testing.T) {
	node := newTestNode(t)
	alice := newActor(t)
	allocs := map[[20]byte]*big.Int{alice.addr: big.NewInt(50)}
	require.NoError(t, node.ApplyGenesis(allocs))
	require.NoError(t, node.ApplyGenesis(allocs))
	balance, err := node.Balance(alice.addr)
	require.NoError(t, err)
	require.Equal(t, int64(50), balance.Int64())
}

func TestNativeTransfer(t *testing.T) {
	node := newTestNode(t)
	alice, bob := newActor(t), newActor(t)
	require.NoError(t, node.ApplyGenesis(map[[20]byte]*big.Int{alice.addr: big.NewInt(10)}))

	_, err := node.send(t, alice, types.TxTypeTransfer, bob.addr, big.NewInt(11), nil)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	node.mustSend(t, alice, types.TxTypeTransfer, bob.addr, big.NewInt(4), nil)
	balance, err := node.Balance(bob.addr)
	require.NoError(t, err)
	require.Equal(t, int64(4), balance.Int64())
	require.Contains(t, node.seen.types(), EventTypeNativeTransfer)
}

func TestPausedModuleRejects(t *testing.T) {
	node := newTestNode(t, WithPauses(common.StaticPauses{common.ModuleCertificate: true}))
	gallery := newActor(t)
	_, err := node.send(t, gallery, types.TxTypeDeployLedger, [20]byte{}, nil, types.DeployLedgerPayload{})
	require.ErrorIs(t, err, common.ErrModulePaused)

	_, err = node.send(t, gallery, types.TxTypeDeployCoordinator, [20]byte{}, nil, types.DeployCoordinatorPayload{})
	require.NoError(t, err)
}

func TestMintQuota(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	node := newTestNode(t,
		WithQuota(common.Quota{MaxMintsPerEpoch: 2, EpochSeconds: 3600}),
		WithNowFunc(func() time.Time { return now }))
	gallery, alice := newActor(t), newActor(t)
	ledger := node.deployLedger(t, gallery)

	node.mint(t, gallery, ledger, alice, "1")
	node.mint(t, gallery, ledger, alice, "2")
	_, err := node.send(t, gallery, types.TxTypeMint, ledger, nil, types.MintPayload{
		To: alice.bech32(), Value: "3", Currency: "USD", ArtistName: "a", ObjectName: "b", AuthURI: "c",
	})
	require.ErrorIs(t, err, common.ErrQuotaMintCapExceeded)

	now = now.Add(time.Hour)
	node.mint(t, gallery, ledger, alice, "3")
}

func TestAuthenticateTokenReadRequest(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	node := newTestNode(t,
		WithReadRequestTTL(time.Minute),
		WithNowFunc(func() time.Time { return now }))
	gallery, alice, bob := newActor(t), newActor(t), newActor(t)
	ledger := node.deployLedger(t, gallery)
	id := node.mint(t, gallery, ledger, alice, "500")

	signed := func(a *actor, expiry time.Time) *types.ReadRequest {
		req := &types.ReadRequest{ChainID: testChainID, Ledger: ledger, TokenID: id, Expiry: expiry.Unix()}
		require.NoError(t, req.Sign(a.key))
		return req
	}

	aliceReq := signed(alice, now.Add(30*time.Second))
	uri, err := node.AuthenticateToken(aliceReq)
	require.NoError(t, err)
	require.Equal(t, "ipfs://auth/friendship", uri)

	// A signed request stays valid until it expires, so it may be replayed.
	uri, err = node.AuthenticateToken(aliceReq)
	require.NoError(t, err)
	require.Equal(t, "ipfs://auth/friendship", uri)

	_, err = node.AuthenticateToken(signed(bob, now.Add(30*time.Second)))
	require.ErrorIs(t, err, certificate.ErrAuthenticationDenied)

	_, err = node.AuthenticateToken(signed(alice, now.Add(-time.Second)))
	require.ErrorIs(t, err, ErrReadRequestExpired)

	_, err = node.AuthenticateToken(signed(alice, now.Add(time.Hour)))
	require.ErrorIs(t, err, ErrReadRequestTooLong)

	node.mustSend(t, gallery, types.TxTypeGrantRole, ledger, nil, types.RolePayload{
		Role: "AUTHENTICATOR", Account: bob.bech32(),
	})
	uri, err = node.AuthenticateToken(signed(bob, now.Add(30*time.Second)))
	require.NoError(t, err)
	require.Equal(t, "ipfs://auth/friendship", uri)
}
