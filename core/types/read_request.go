package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"math/big"
)

// ReadRequest authenticates the caller of a gated read without submitting a
// transaction. The signature binds the request to one ledger, one token and an
// expiry so a captured request cannot be replayed elsewhere or indefinitely.
type ReadRequest struct {
	ChainID uint64   `json:"chainId"`
	Ledger  [20]byte `json:"ledger"`
	TokenID uint64   `json:"tokenId"`
	Expiry  int64    `json:"expiry"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`
}

func (r *ReadRequest) Hash() ([]byte, error) {
	payload := struct {
		Domain  string
		ChainID uint64
		Ledger  [20]byte
		TokenID uint64
		Expiry  int64
	}{"certificate.authenticate", r.ChainID, r.Ledger, r.TokenID, r.Expiry}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

func (r *ReadRequest) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := r.Hash()
	if err != nil {
		return err
	}
	rr, ss, vv, err := signHash(hash, privKey)
	if err != nil {
		return err
	}
	r.R, r.S, r.V = rr, ss, vv
	return nil
}

// Caller recovers the signing address.
func (r *ReadRequest) Caller() ([20]byte, error) {
	var out [20]byte
	hash, err := r.Hash()
	if err != nil {
		return out, err
	}
	from, err := recoverSigner(hash, r.R, r.S, r.V)
	if err != nil {
		return out, err
	}
	copy(out[:], from)
	return out, nil
}
