package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeTransfer          TxType = 0x01 // Native balance transfer
	TxTypeDeployLedger      TxType = 0x02 // Deploy a certificate ledger
	TxTypeDeployCoordinator TxType = 0x03 // Deploy a listing coordinator
	TxTypeMint              TxType = 0x04
	TxTypeMintBatch         TxType = 0x05
	TxTypeTransferValue     TxType = 0x06 // Ownership transfer with revaluation
	TxTypeApprove           TxType = 0x07
	TxTypeSetApprovalForAll TxType = 0x08
	TxTypeGrantRole         TxType = 0x09
	TxTypeRevokeRole        TxType = 0x0a
	TxTypeRenounceRole      TxType = 0x0b
	TxTypeListCertificate   TxType = 0x0c
	TxTypeClaimListing      TxType = 0x0d
)

var errMissingSignature = errors.New("transaction: missing signature")

// String returns a stable label used by logs and metrics.
func (t TxType) String() string {
	switch t {
	case TxTypeTransfer:
		return "transfer"
	case TxTypeDeployLedger:
		return "deploy_ledger"
	case TxTypeDeployCoordinator:
		return "deploy_coordinator"
	case TxTypeMint:
		return "mint"
	case TxTypeMintBatch:
		return "mint_batch"
	case TxTypeTransferValue:
		return "transfer_value"
	case TxTypeApprove:
		return "approve"
	case TxTypeSetApprovalForAll:
		return "set_approval_for_all"
	case TxTypeGrantRole:
		return "grant_role"
	case TxTypeRevokeRole:
		return "revoke_role"
	case TxTypeRenounceRole:
		return "renounce_role"
	case TxTypeListCertificate:
		return "list_certificate"
	case TxTypeClaimListing:
		return "claim_listing"
	default:
		return "unknown"
	}
}

// Transaction is a signed request to mutate ledger or coordinator state. The
// recovered signer is the authenticated caller of the operation.
type Transaction struct {
	ChainID uint64   `json:"chainId"`
	Type    TxType   `json:"type"`
	Nonce   uint64   `json:"nonce"`
	To      []byte   `json:"to,omitempty"`    // Target contract or native transfer recipient
	Value   *big.Int `json:"value,omitempty"` // Native amount moved or offered as payment
	Data    []byte   `json:"data,omitempty"`  // JSON-encoded payload for the transaction type

	// Signatures
	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

// Hash covers every field except the signature.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		ChainID uint64
		Type    TxType
		Nonce   uint64
		To      []byte
		Value   *big.Int
		Data    []byte
	}{tx.ChainID, tx.Type, tx.Nonce, tx.To, tx.Value, tx.Data}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	r, s, v, err := signHash(hash, privKey)
	if err != nil {
		return err
	}
	tx.R, tx.S, tx.V = r, s, v
	tx.from = nil
	return nil
}

func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	from, err := recoverSigner(hash, tx.R, tx.S, tx.V)
	if err != nil {
		return nil, err
	}
	tx.from = from
	return tx.from, nil
}

// SetPayload JSON-encodes the payload into the Data field.
func (tx *Transaction) SetPayload(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	tx.Data = data
	return nil
}

func signHash(hash []byte, privKey *ecdsa.PrivateKey) (*big.Int, *big.Int, *big.Int, error) {
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return nil, nil, nil, err
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	v := new(big.Int).SetBytes([]byte{sig[64] + 27})
	return r, s, v, nil
}

func recoverSigner(hash []byte, r, s, v *big.Int) ([]byte, error) {
	if r == nil || s == nil || v == nil {
		return nil, errMissingSignature
	}
	if v.Uint64() < 27 {
		return nil, errors.New("transaction: invalid signature recovery id")
	}
	rb, sb := r.Bytes(), s.Bytes()
	if len(rb) > 32 || len(sb) > 32 {
		return nil, errors.New("transaction: malformed signature")
	}
	sig := make([]byte, 65)
	copy(sig[32-len(rb):32], rb)
	copy(sig[64-len(sb):64], sb)
	sig[64] = byte(v.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	return crypto.PubkeyToAddress(*pubKey).Bytes(), nil
}
