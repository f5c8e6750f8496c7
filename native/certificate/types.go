package certificate

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	DefaultName   = "Art Certificate of Authenticity"
	DefaultSymbol = "ACOA"

	// DefaultMaxBatchSize bounds MintBatch when no explicit limit is set.
	DefaultMaxBatchSize = 100
)

// Currency is a fixed-width ASCII currency code, NUL padded on the right.
type Currency [4]byte

// ParseCurrency converts a code of at most four printable ASCII characters.
func ParseCurrency(code string) (Currency, error) {
	var out Currency
	trimmed := strings.TrimSpace(code)
	if trimmed == "" || len(trimmed) > len(out) {
		return out, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] < 0x21 || trimmed[i] > 0x7e {
			return out, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
	}
	copy(out[:], trimmed)
	return out, nil
}

// String returns the code without padding.
func (c Currency) String() string {
	return string(bytes.TrimRight(c[:], "\x00"))
}

// IsZero reports whether the currency is unset.
func (c Currency) IsZero() bool { return c == Currency{} }

// RoleID identifies an access-control role.
type RoleID [32]byte

var (
	// AdminRole is the zero identifier and administers every role.
	AdminRole         = RoleID{}
	MinterRole        = RoleID(ethcrypto.Keccak256Hash([]byte("MINTER_ROLE")))
	AuthenticatorRole = RoleID(ethcrypto.Keccak256Hash([]byte("AUTHENTICATOR_ROLE")))
)

// ParseRole accepts a role label (ADMIN, MINTER, AUTHENTICATOR) or a 0x-prefixed
// 32-byte identifier.
func ParseRole(s string) (RoleID, error) {
	trimmed := strings.TrimSpace(s)
	switch strings.TrimSuffix(strings.ToUpper(trimmed), "_ROLE") {
	case "ADMIN", "DEFAULT_ADMIN":
		return AdminRole, nil
	case "MINTER":
		return MinterRole, nil
	case "AUTHENTICATOR":
		return AuthenticatorRole, nil
	}
	raw := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return RoleID{}, fmt.Errorf("certificate: unknown role %q", s)
	}
	var out RoleID
	copy(out[:], decoded)
	return out, nil
}

// String returns the role label for known roles and the hex identifier
// otherwise.
func (r RoleID) String() string {
	switch r {
	case AdminRole:
		return "ADMIN"
	case MinterRole:
		return "MINTER"
	case AuthenticatorRole:
		return "AUTHENTICATOR"
	default:
		return r.Hex()
	}
}

// Hex returns the 0x-prefixed identifier.
func (r RoleID) Hex() string {
	return "0x" + hex.EncodeToString(r[:])
}

// Collection describes a deployed certificate ledger.
type Collection struct {
	Address  [20]byte
	Name     string
	Symbol   string
	BaseURI  string
	Deployer [20]byte
	Minted   uint64
}

// Token is the full certificate record. AuthURI is only populated by
// AuthenticateToken.
type Token struct {
	ID         uint64
	Owner      [20]byte
	Value      *uint256.Int
	Currency   Currency
	ArtistName string
	ObjectName string
	TokenURI   string
	Approved   [20]byte
}

// HistoryEntry records one ownership transfer and the valuation it carried.
type HistoryEntry struct {
	From     [20]byte
	To       [20]byte
	Value    *uint256.Int
	Currency Currency
}

// MintRequest describes a single certificate to create.
type MintRequest struct {
	To         [20]byte
	Value      *uint256.Int
	Currency   Currency
	ArtistName string
	ObjectName string
	AuthURI    string
}

// BatchMintRequest creates one certificate per value, all for the same artist
// and recipient.
type BatchMintRequest struct {
	To          [20]byte
	Currency    Currency
	ArtistName  string
	Values      []*uint256.Int
	ObjectNames []string
	AuthURIs    []string
}

// TransferRequest moves a certificate and revalues it. A zero NewCurrency
// keeps the current currency.
type TransferRequest struct {
	From        [20]byte
	To          [20]byte
	TokenID     uint64
	NewValue    *uint256.Int
	NewCurrency Currency
}

func cloneValue(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(v)
}
