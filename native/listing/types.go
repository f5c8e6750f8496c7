package listing

import (
	"math/big"

	"github.com/holiman/uint256"

	"codice/native/certificate"
)

// MaxFeePercent is the upper bound accepted at deployment.
const MaxFeePercent = 100

// Ledger is the certificate capability the coordinator needs. Every call is
// evaluated against current ledger state.
type Ledger interface {
	OwnerOf(id uint64) ([20]byte, error)
	GetApproved(id uint64) ([20]byte, error)
	IsApprovedForAll(owner, operator [20]byte) (bool, error)
	ValueOf(id uint64) (*uint256.Int, error)
	TransferWithValue(caller [20]byte, req certificate.TransferRequest) error
}

// LedgerResolver returns the ledger deployed at addr.
type LedgerResolver func(addr [20]byte) (Ledger, error)

// Listing is a pending or completed escrow-style handoff. A zero Claimer means
// any account may claim by paying Price.
type Listing struct {
	ID        uint64
	Ledger    [20]byte
	TokenID   uint64
	Lister    [20]byte
	Claimer   [20]byte
	Price     *big.Int
	IsClaimed bool
	ClaimedBy [20]byte
}

// Open reports whether the listing accepts any claimant.
func (l *Listing) Open() bool { return l.Claimer == ([20]byte{}) }

// ListRequest creates a listing for a certificate the caller owns.
type ListRequest struct {
	Ledger  [20]byte
	TokenID uint64
	Claimer [20]byte
	Price   *big.Int
}

// Fees describes the coordinator's fee policy: FeePercent of each claim price
// is paid to FeeAccount.
type Fees struct {
	FeeAccount [20]byte
	FeePercent uint64
}

// ComputeFee returns the platform share of price, rounded down.
func (f Fees) ComputeFee(price *big.Int) *big.Int {
	if price == nil || price.Sign() <= 0 || f.FeePercent == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(f.FeePercent))
	return fee.Quo(fee, big.NewInt(100))
}
