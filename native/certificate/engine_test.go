package certificate

import (
	"bytes"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"codice/core/events"
	"codice/core/state"
	"codice/storage"
)

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	testLedger   = newTestAddress(0x10)
	testDeployer = newTestAddress(0xD0)
	alice        = newTestAddress(0xA1)
	bob          = newTestAddress(0xB2)
	carol        = newTestAddress(0xC3)
	mallory      = newTestAddress(0xEE)
)

type testEnv struct {
	engine  *Engine
	state   *state.Manager
	emitted *events.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	buf := &events.Buffer{}
	engine := NewEngine(testLedger)
	engine.SetState(mgr)
	engine.SetEmitter(buf)
	_, err := engine.Deploy(testDeployer, "", "", "ipfs://base/")
	require.NoError(t, err)
	buf.Reset()
	return &testEnv{engine: engine, state: mgr, emitted: buf}
}

func mustCurrency(t *testing.T, code string) Currency {
	t.Helper()
	c, err := ParseCurrency(code)
	require.NoError(t, err)
	return c
}

func (env *testEnv) mint(t *testing.T, to [20]byte, value uint64) uint64 {
	t.Helper()
	id, err := env.engine.Mint(testDeployer, MintRequest{
		To:         to,
		Value:      uint256.NewInt(value),
		Currency:   mustCurrency(t, "usd"),
		ArtistName: "Hilma af Klint",
		ObjectName: "The Ten Largest",
		AuthURI:    "ipfs://auth/doc",
	})
	require.NoError(t, err)
	return id
}

func eventTypes(buf *events.Buffer) []string {
	var out []string
	for _, evt := range buf.Events() {
		out = append(out, evt.EventType())
	}
	return out
}

func TestDeployDefaultsAndRoles(t *testing.T) {
	env := newTestEnv(t)

	collection, err := env.engine.Collection()
	require.NoError(t, err)
	require.Equal(t, DefaultName, collection.Name)
	require.Equal(t, DefaultSymbol, collection.Symbol)
	require.Equal(t, testDeployer, collection.Deployer)
	require.True(t, env.engine.HasRole(AdminRole, testDeployer))
	require.True(t, env.engine.HasRole(MinterRole, testDeployer))
	require.False(t, env.engine.HasRole(AuthenticatorRole, testDeployer))

	_, err = env.engine.Deploy(testDeployer, "again", "X", "")
	require.ErrorIs(t, err, ErrCollectionExists)
}

func TestOperationsRequireDeployedCollection(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	engine := NewEngine(testLedger)
	engine.SetState(state.NewManager(db))

	_, err := engine.MintedTokens()
	require.ErrorIs(t, err, ErrCollectionNotFound)
	_, err = engine.TokenInfo(0)
	require.ErrorIs(t, err, ErrCollectionNotFound)

	unconfigured := NewEngine(testLedger)
	_, err = unconfigured.Mint(testDeployer, MintRequest{})
	require.ErrorIs(t, err, ErrNilState)
}

func TestMintAssignsSequentialIDs(t *testing.T) {
	env := newTestEnv(t)

	for want := uint64(0); want < 3; want++ {
		got := env.mint(t, alice, 500)
		require.Equal(t, want, got)
	}
	minted, err := env.engine.MintedTokens()
	require.NoError(t, err)
	require.Equal(t, uint64(3), minted)

	info, err := env.engine.TokenInfo(2)
	require.NoError(t, err)
	require.Equal(t, alice, info.Owner)
	require.Equal(t, "500", info.Value.Dec())
	require.Equal(t, "usd", info.Currency.String())
	require.Equal(t, "ipfs://base/2", info.TokenURI)
	require.Equal(t, "The Ten Largest", info.ObjectName)

	balance, err := env.engine.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(3), balance)

	history, err := env.engine.ValueHistory(0)
	require.NoError(t, err)
	require.Empty(t, history)

	require.Equal(t, []string{
		EventTypeTransfer, EventTypeMinted,
		EventTypeTransfer, EventTypeMinted,
		EventTypeTransfer, EventTypeMinted,
	}, eventTypes(env.emitted))
}

func TestMintRequiresMinterRole(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Mint(alice, MintRequest{To: alice, Value: uint256.NewInt(1), Currency: mustCurrency(t, "usd")})
	require.ErrorIs(t, err, ErrMissingRole)
	var roleErr *MissingRoleError
	require.True(t, errors.As(err, &roleErr))
	require.Equal(t, alice, roleErr.Account)
	require.Equal(t, MinterRole, roleErr.Role)

	minted, err := env.engine.MintedTokens()
	require.NoError(t, err)
	require.Zero(t, minted)
	require.Zero(t, env.emitted.Len())
}

func TestMintRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Mint(testDeployer, MintRequest{Value: uint256.NewInt(1), Currency: mustCurrency(t, "usd")})
	require.ErrorIs(t, err, ErrZeroAddress)
	_, err = env.engine.Mint(testDeployer, MintRequest{To: alice, Value: uint256.NewInt(1)})
	require.ErrorIs(t, err, ErrInvalidCurrency)
}

func TestMintBatchIsAtomic(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.MintBatch(testDeployer, BatchMintRequest{
		To:          alice,
		Currency:    mustCurrency(t, "eur"),
		ArtistName:  "Agnes Martin",
		Values:      []*uint256.Int{uint256.NewInt(1), uint256.NewInt(2)},
		ObjectNames: []string{"Untitled I"},
		AuthURIs:    []string{"a", "b"},
	})
	require.ErrorIs(t, err, ErrInvalidBatch)
	minted, _ := env.engine.MintedTokens()
	require.Zero(t, minted)
	require.Zero(t, env.emitted.Len())

	ids, err := env.engine.MintBatch(testDeployer, BatchMintRequest{
		To:          alice,
		Currency:    mustCurrency(t, "eur"),
		ArtistName:  "Agnes Martin",
		Values:      []*uint256.Int{uint256.NewInt(1), uint256.NewInt(2)},
		ObjectNames: []string{"Untitled I", "Untitled II"},
		AuthURIs:    []string{"a", "b"},
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1}, ids)

	info, err := env.engine.TokenInfo(1)
	require.NoError(t, err)
	require.Equal(t, "Agnes Martin", info.ArtistName)
	require.Equal(t, "Untitled II", info.ObjectName)
	require.Equal(t, "2", info.Value.Dec())
}

func TestMintBatchRespectsLimit(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetMaxBatchSize(2)

	_, err := env.engine.MintBatch(testDeployer, BatchMintRequest{
		To:          alice,
		Currency:    mustCurrency(t, "usd"),
		Values:      []*uint256.Int{uint256.NewInt(1), uint256.NewInt(2), uint256.NewInt(3)},
		ObjectNames: []string{"a", "b", "c"},
		AuthURIs:    []string{"a", "b", "c"},
	})
	require.ErrorIs(t, err, ErrInvalidBatch)

	_, err = env.engine.MintBatch(testDeployer, BatchMintRequest{To: alice, Currency: mustCurrency(t, "usd")})
	require.ErrorIs(t, err, ErrInvalidBatch)
}

func TestTransferChainAndStaleOwner(t *testing.T) {
	env := newTestEnv(t)
	id := env.mint(t, alice, 500)
	env.emitted.Reset()

	require.NoError(t, env.engine.TransferWithValue(alice, TransferRequest{From: alice, To: bob, TokenID: id, NewValue: uint256.NewInt(600)}))
	require.NoError(t, env.engine.TransferWithValue(bob, TransferRequest{From: bob, To: carol, TokenID: id, NewValue: uint256.NewInt(700)}))

	err := env.engine.TransferWithValue(alice, TransferRequest{From: alice, To: bob, TokenID: id, NewValue: uint256.NewInt(1)})
	require.ErrorIs(t, err, ErrIncorrectOwner)

	info, err := env.engine.TokenInfo(id)
	require.NoError(t, err)
	require.Equal(t, carol, info.Owner)
	require.Equal(t, "700", info.Value.Dec())

	history, err := env.engine.ValueHistory(id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, alice, history[0].From)
	require.Equal(t, bob, history[0].To)
	require.Equal(t, "600", history[0].Value.Dec())
	require.Equal(t, carol, history[1].To)
	require.Equal(t, "usd", history[1].Currency.String())

	require.Equal(t, []string{
		EventTypeTransfer, EventTypeValueTransfer,
		EventTypeTransfer, EventTypeValueTransfer,
	}, eventTypes(env.emitted))

	last := env.emitted.Events()[3].(ValueTransferEvent)
	require.Equal(t, "700", last.Value)
	require.Equal(t, id, last.TokenID)
}

func TestTransferCheckOrder(t *testing.T) {
	env := newTestEnv(t)
	id := env.mint(t, alice, 500)
	env.emitted.Reset()

	err := env.engine.TransferWithValue(alice, TransferRequest{From: alice, To: bob, TokenID: 99, NewValue: uint256.NewInt(1)})
	require.ErrorIs(t, err, ErrInvalidToken)

	err = env.engine.TransferWithValue(mallory, TransferRequest{From: alice, To: mallory, TokenID: id, NewValue: uint256.NewInt(1)})
	require.ErrorIs(t, err, ErrNotOwnerOrApproved)

	err = env.engine.TransferWithValue(alice, TransferRequest{From: alice, To: [20]byte{}, TokenID: id, NewValue: uint256.NewInt(1)})
	require.ErrorIs(t, err, ErrZeroAddress)

	info, err := env.engine.TokenInfo(id)
	require.NoError(t, err)
	require.Equal(t, alice, info.Owner)
	require.Equal(t, "500", info.Value.Dec())
	require.Zero(t, env.emitted.Len())
}

func TestTransferWithNewCurrency(t *testing.T) {
	env := newTestEnv(t)
	id := env.mint(t, alice, 500)

	require.NoError(t, env.engine.TransferWithValue(alice, TransferRequest{
		From: alice, To: bob, TokenID: id, NewValue: uint256.NewInt(450), NewCurrency: mustCurrency(t, "eur"),
	}))
	info, err := env.engine.TokenInfo(id)
	require.NoError(t, err)
	require.Equal(t, "eur", info.Currency.String())
}

func TestApprovedOperatorsCanTransfer(t *testing.T) {
	env := newTestEnv(t)
	first := env.mint(t, alice, 100)
	second := env.mint(t, alice, 200)

	require.NoError(t, env.engine.Approve(alice, bob, first))
	approved, err := env.engine.GetApproved(first)
	require.NoError(t, err)
	require.Equal(t, bob, approved)

	require.NoError(t, env.engine.TransferWithValue(bob, TransferRequest{From: alice, To: carol, TokenID: first, NewValue: uint256.NewInt(150)}))
	approved, err = env.engine.GetApproved(first)
	require.NoError(t, err)
	require.Equal(t, [20]byte{}, approved, "approval must be cleared by transfer")

	require.NoError(t, env.engine.SetApprovalForAll(alice, carol, true))
	ok, err := env.engine.IsApprovedForAll(alice, carol)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, env.engine.TransferWithValue(carol, TransferRequest{From: alice, To: carol, TokenID: second, NewValue: uint256.NewInt(250)}))

	require.NoError(t, env.engine.SetApprovalForAll(alice, carol, false))
	ok, err = env.engine.IsApprovedForAll(alice, carol)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestApproveValidation(t *testing.T) {
	env := newTestEnv(t)
	id := env.mint(t, alice, 100)

	require.ErrorIs(t, env.engine.Approve(alice, alice, id), ErrApproveToOwner)
	require.ErrorIs(t, env.engine.Approve(mallory, bob, id), ErrNotOwnerOrApproved)
	require.ErrorIs(t, env.engine.SetApprovalForAll(alice, alice, true), ErrApproveToCaller)

	require.NoError(t, env.engine.SetApprovalForAll(alice, bob, true))
	require.NoError(t, env.engine.Approve(bob, carol, id), "operator may approve on behalf of the owner")
}

func TestAuthenticationGateFollowsOwnership(t *testing.T) {
	env := newTestEnv(t)
	id := env.mint(t, alice, 500)

	uri, err := env.engine.AuthenticateToken(alice, id)
	require.NoError(t, err)
	require.Equal(t, "ipfs://auth/doc", uri)

	_, err = env.engine.AuthenticateToken(bob, id)
	require.ErrorIs(t, err, ErrAuthenticationDenied)

	require.NoError(t, env.engine.GrantRole(testDeployer, AuthenticatorRole, mallory))
	_, err = env.engine.AuthenticateToken(mallory, id)
	require.NoError(t, err)

	require.NoError(t, env.engine.TransferWithValue(alice, TransferRequest{From: alice, To: bob, TokenID: id, NewValue: uint256.NewInt(600)}))
	_, err = env.engine.AuthenticateToken(bob, id)
	require.NoError(t, err)
	_, err = env.engine.AuthenticateToken(alice, id)
	require.ErrorIs(t, err, ErrAuthenticationDenied)

	_, err = env.engine.AuthenticateToken(alice, 42)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRoleManagement(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.GrantRole(alice, MinterRole, alice)
	require.ErrorIs(t, err, ErrMissingRole)
	require.Contains(t, err.Error(), "is missing role ADMIN")

	require.NoError(t, env.engine.GrantRole(testDeployer, MinterRole, alice))
	require.NoError(t, env.engine.GrantRole(testDeployer, MinterRole, alice))
	require.Equal(t, []string{EventTypeRoleGranted}, eventTypes(env.emitted))

	members, err := env.engine.RoleMembers(MinterRole)
	require.NoError(t, err)
	require.Len(t, members, 2)

	env.mint(t, alice, 1)
	_, err = env.engine.Mint(alice, MintRequest{To: bob, Value: uint256.NewInt(1), Currency: mustCurrency(t, "usd")})
	require.NoError(t, err)

	require.NoError(t, env.engine.RevokeRole(testDeployer, MinterRole, alice))
	_, err = env.engine.Mint(alice, MintRequest{To: bob, Value: uint256.NewInt(1), Currency: mustCurrency(t, "usd")})
	require.ErrorIs(t, err, ErrMissingRole)

	require.NoError(t, env.engine.RenounceRole(testDeployer, MinterRole))
	require.False(t, env.engine.HasRole(MinterRole, testDeployer))
}

func TestParseCurrencyAndRole(t *testing.T) {
	c, err := ParseCurrency("usd")
	require.NoError(t, err)
	require.Equal(t, Currency{'u', 's', 'd', 0}, c)

	_, err = ParseCurrency("toolong")
	require.ErrorIs(t, err, ErrInvalidCurrency)
	_, err = ParseCurrency("")
	require.ErrorIs(t, err, ErrInvalidCurrency)

	role, err := ParseRole("minter_role")
	require.NoError(t, err)
	require.Equal(t, MinterRole, role)
	role, err = ParseRole(AuthenticatorRole.Hex())
	require.NoError(t, err)
	require.Equal(t, AuthenticatorRole, role)
	_, err = ParseRole("curator")
	require.Error(t, err)
}
