package rpc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"codice/core"
	"codice/core/types"
	"codice/crypto"
	"codice/services/indexer"
	"codice/storage"
)

const testChainID = 9

type testEnv struct {
	node    *core.Node
	server  *Server
	indexer *indexer.Indexer
	nonces  map[*ecdsa.PrivateKey]uint64
}

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db, core.WithChainID(testChainID))
	require.NoError(t, err)
	ix, err := indexer.Open(filepath.Join(t.TempDir(), "indexer.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	node.Subscribe(ix)
	if cfg.Indexer == nil {
		cfg.Indexer = ix
	}
	return &testEnv{node: node, server: NewServer(node, cfg), indexer: ix, nonces: make(map[*ecdsa.PrivateKey]uint64)}
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, [20]byte) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return key, [20]byte(ethcrypto.PubkeyToAddress(key.PublicKey))
}

func (env *testEnv) call(t *testing.T, token, method string, params ...interface{}) (int, RPCResponse) {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(t, err)
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	var resp RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func (env *testEnv) sendTx(t *testing.T, key *ecdsa.PrivateKey, txType types.TxType, to [20]byte, value *big.Int, payload interface{}) RPCResponse {
	t.Helper()
	tx := &types.Transaction{ChainID: testChainID, Type: txType, Nonce: env.nonces[key], Value: value}
	if to != ([20]byte{}) {
		tx.To = to[:]
	}
	require.NoError(t, tx.SetPayload(payload))
	require.NoError(t, tx.Sign(key))
	_, resp := env.call(t, "", "coa_sendTransaction", tx)
	if resp.Error == nil {
		env.nonces[key]++
	}
	return resp
}

func decodeResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error)
	encoded, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(encoded, out))
}

func TestRejectsMalformedRequests(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString("{")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rpc", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	status, resp := env.call(t, "", "certificate_unknown")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	status, resp = env.call(t, "", "certificate_ownerOf", map[string]interface{}{"ledger": "nope", "tokenId": 0})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestChainID(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	var chainID uint64
	_, resp := env.call(t, "", "coa_chainId")
	decodeResult(t, resp, &chainID)
	require.Equal(t, uint64(testChainID), chainID)
}

func TestSendTransactionRequiresToken(t *testing.T) {
	env := newTestEnv(t, ServerConfig{AuthToken: "secret"})
	key, _ := newKey(t)
	tx := &types.Transaction{ChainID: testChainID, Type: types.TxTypeDeployLedger}
	require.NoError(t, tx.SetPayload(types.DeployLedgerPayload{}))
	require.NoError(t, tx.Sign(key))

	status, resp := env.call(t, "", "coa_sendTransaction", tx)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, resp = env.call(t, "secret", "coa_sendTransaction", tx)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)
}

func TestCertificateLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	galleryKey, gallery := newKey(t)
	aliceKey, alice := newKey(t)
	bobKey, bob := newKey(t)

	var deployed ReceiptResult
	decodeResult(t, env.sendTx(t, galleryKey, types.TxTypeDeployLedger, [20]byte{}, nil,
		types.DeployLedgerPayload{BaseURI: "https://coa.example/"}), &deployed)
	ledgerAddr, err := crypto.ParseAddress(deployed.Contract)
	require.NoError(t, err)
	ledger := deployed.Contract

	var minted ReceiptResult
	decodeResult(t, env.sendTx(t, galleryKey, types.TxTypeMint, ledgerAddr, nil, types.MintPayload{
		To: crypto.FormatAddress(alice), Value: "500", Currency: "USD",
		ArtistName: "Lee Krasner", ObjectName: "Polar Stampede", AuthURI: "ipfs://auth/ps",
	}), &minted)
	require.Equal(t, []uint64{0}, minted.TokenIDs)

	resp := env.sendTx(t, bobKey, types.TxTypeTransferValue, ledgerAddr, nil, types.TransferValuePayload{
		From: crypto.FormatAddress(alice), To: crypto.FormatAddress(bob), TokenID: 0, NewValue: "1",
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeForbidden, resp.Error.Code)

	resp = env.sendTx(t, galleryKey, types.TxTypeMint, ledgerAddr, nil, types.MintPayload{
		To: crypto.FormatAddress(bob), Value: "1", Currency: "USDXX",
	})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	decodeResult(t, env.sendTx(t, aliceKey, types.TxTypeTransferValue, ledgerAddr, nil, types.TransferValuePayload{
		From: crypto.FormatAddress(alice), To: crypto.FormatAddress(bob), TokenID: 0, NewValue: "650",
	}), &ReceiptResult{})

	var token TokenResult
	_, resp = env.call(t, "", "certificate_tokenInfo", map[string]interface{}{"ledger": ledger, "tokenId": 0})
	decodeResult(t, resp, &token)
	require.Equal(t, crypto.FormatAddress(bob), token.Owner)
	require.Equal(t, "650", token.Value)
	require.Equal(t, "USD", token.Currency)
	require.Equal(t, "https://coa.example/0", token.TokenURI)

	var history []HistoryResult
	_, resp = env.call(t, "", "certificate_valueHistory", map[string]interface{}{"ledger": ledger, "tokenId": 0})
	decodeResult(t, resp, &history)
	require.Len(t, history, 1)
	require.Equal(t, "650", history[0].Value)

	var balance uint64
	_, resp = env.call(t, "", "certificate_balanceOf", map[string]interface{}{"ledger": ledger, "owner": crypto.FormatAddress(bob)})
	decodeResult(t, resp, &balance)
	require.Equal(t, uint64(1), balance)

	var members []string
	_, resp = env.call(t, "", "certificate_roles", map[string]interface{}{"ledger": ledger, "role": "MINTER"})
	decodeResult(t, resp, &members)
	require.Equal(t, []string{crypto.FormatAddress(gallery)}, members)

	status, resp := env.call(t, "", "certificate_ownerOf", map[string]interface{}{"ledger": ledger, "tokenId": 7})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeNotFound, resp.Error.Code)

	var events []indexer.Event
	_, resp = env.call(t, "", "provenance_events", map[string]interface{}{"ledger": ledger, "tokenId": 0})
	decodeResult(t, resp, &events)
	require.Len(t, events, 4, "transfer and minted on mint, transfer and value transfer on revaluation")

	var transfers []indexer.Transfer
	_, resp = env.call(t, "", "provenance_transfers", map[string]interface{}{"ledger": ledger, "tokenId": 0})
	decodeResult(t, resp, &transfers)
	require.Len(t, transfers, 1)
	require.Equal(t, "650", transfers[0].Value)

	var receipt ReceiptResult
	_, resp = env.call(t, "", "coa_getReceipt", minted.TransactionHash)
	decodeResult(t, resp, &receipt)
	require.Equal(t, minted.TokenIDs, receipt.TokenIDs)

	var account AccountResult
	_, resp = env.call(t, "", "coa_getAccount", crypto.FormatAddress(gallery))
	decodeResult(t, resp, &account)
	require.Equal(t, uint64(2), account.Nonce)
}

func TestAuthenticateOverRPC(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	galleryKey, _ := newKey(t)
	aliceKey, alice := newKey(t)
	bobKey, _ := newKey(t)

	var deployed ReceiptResult
	decodeResult(t, env.sendTx(t, galleryKey, types.TxTypeDeployLedger, [20]byte{}, nil, types.DeployLedgerPayload{}), &deployed)
	ledgerAddr, err := crypto.ParseAddress(deployed.Contract)
	require.NoError(t, err)
	decodeResult(t, env.sendTx(t, galleryKey, types.TxTypeMint, ledgerAddr, nil, types.MintPayload{
		To: crypto.FormatAddress(alice), Value: "1", Currency: "EUR", AuthURI: "ipfs://auth/secret",
	}), &ReceiptResult{})

	signed := func(key *ecdsa.PrivateKey) authenticateParams {
		req := &types.ReadRequest{ChainID: testChainID, Ledger: ledgerAddr, TokenID: 0, Expiry: time.Now().Add(time.Minute).Unix()}
		require.NoError(t, req.Sign(key))
		return authenticateParams{
			ChainID: req.ChainID, Ledger: deployed.Contract, TokenID: req.TokenID, Expiry: req.Expiry,
			R: req.R, S: req.S, V: req.V,
		}
	}

	var result map[string]string
	_, resp := env.call(t, "", "certificate_authenticate", signed(aliceKey))
	decodeResult(t, resp, &result)
	require.Equal(t, "ipfs://auth/secret", result["authUri"])

	status, resp := env.call(t, "", "certificate_authenticate", signed(bobKey))
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeForbidden, resp.Error.Code)
}

func TestListingReadsOverRPC(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	operatorKey, operator := newKey(t)

	var deployed ReceiptResult
	decodeResult(t, env.sendTx(t, operatorKey, types.TxTypeDeployCoordinator, [20]byte{}, nil,
		types.DeployCoordinatorPayload{FeePercent: 3}), &deployed)

	var fees FeesResult
	_, resp := env.call(t, "", "listing_fees", map[string]interface{}{"coordinator": deployed.Contract})
	decodeResult(t, resp, &fees)
	require.Equal(t, crypto.FormatAddress(operator), fees.FeeAccount)
	require.Equal(t, uint64(3), fees.FeePercent)

	var count uint64
	_, resp = env.call(t, "", "listing_count", map[string]interface{}{"coordinator": deployed.Contract})
	decodeResult(t, resp, &count)
	require.Zero(t, count)

	status, resp := env.call(t, "", "listing_get", map[string]interface{}{"coordinator": deployed.Contract, "itemId": 0})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeNotFound, resp.Error.Code)
}

func TestProvenanceWithoutIndexer(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db, core.WithChainID(testChainID))
	require.NoError(t, err)
	env := &testEnv{node: node, server: NewServer(node, ServerConfig{})}

	status, resp := env.call(t, "", "provenance_events", map[string]interface{}{"ledger": "x", "tokenId": 0})
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, codeUnavailable, resp.Error.Code)
}
