package types

import (
	"bytes"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestTransactionSignAndRecover(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	tx := &Transaction{ChainID: 7, Type: TxTypeMint, Nonce: 3, Value: big.NewInt(0)}
	require.NoError(t, tx.SetPayload(MintPayload{Value: "500", Currency: "usd"}))
	require.NoError(t, tx.Sign(key))

	from, err := tx.From()
	require.NoError(t, err)
	want := ethcrypto.PubkeyToAddress(key.PublicKey).Bytes()
	if !bytes.Equal(from, want) {
		t.Fatalf("recovered %x, want %x", from, want)
	}
}

func TestTransactionTamperChangesSigner(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	tx := &Transaction{ChainID: 1, Type: TxTypeTransfer, Nonce: 0, Value: big.NewInt(10)}
	require.NoError(t, tx.Sign(key))
	signer, err := tx.From()
	require.NoError(t, err)

	tampered := &Transaction{ChainID: 1, Type: TxTypeTransfer, Nonce: 0, Value: big.NewInt(11), R: tx.R, S: tx.S, V: tx.V}
	other, err := tampered.From()
	if err == nil && bytes.Equal(other, signer) {
		t.Fatalf("tampered transaction must not recover the original signer")
	}
}

func TestUnsignedTransactionHasNoSender(t *testing.T) {
	tx := &Transaction{Type: TxTypeTransfer}
	if _, err := tx.From(); err == nil {
		t.Fatalf("expected unsigned transaction to fail sender recovery")
	}
}

func TestReadRequestCaller(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	req := &ReadRequest{ChainID: 9, TokenID: 4, Expiry: 1_700_000_000}
	req.Ledger[0] = 0xAB
	require.NoError(t, req.Sign(key))

	caller, err := req.Caller()
	require.NoError(t, err)
	require.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey).Bytes(), caller[:])

	req.TokenID = 5
	moved, err := req.Caller()
	if err == nil && moved == caller {
		t.Fatalf("signature must not verify for a different token")
	}
}

func TestTxTypeString(t *testing.T) {
	require.Equal(t, "transfer_value", TxTypeTransferValue.String())
	require.Equal(t, "unknown", TxType(0xff).String())
}

func TestEventAttributeHelpers(t *testing.T) {
	evt := &Event{Type: "listing.claimed", Attributes: map[string]string{"nftContract": "coa1ledger", "tokenId": "4"}}
	require.Equal(t, "coa1ledger", evt.Contract())
	id, ok, err := evt.TokenID()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(4), id)

	clone := evt.Clone()
	clone.Attributes["tokenId"] = "5"
	require.Equal(t, "4", evt.Attributes["tokenId"])

	_, ok, err = (&Event{Type: "role.granted"}).TokenID()
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = (&Event{Type: "bad", Attributes: map[string]string{"tokenId": "x"}}).TokenID()
	require.Error(t, err)
}
