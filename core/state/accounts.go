package state

import (
	"errors"
	"fmt"
	"math/big"

	"codice/core/types"
)

// ErrInsufficientBalance is returned when a debit exceeds the account balance.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

func accountKey(addr []byte) []byte {
	return append([]byte("account/"), addr...)
}

// GetAccount returns the stored account or a zero account when absent.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	var stored storedAccount
	ok, err := m.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	account := &types.Account{Balance: big.NewInt(0)}
	if ok {
		account.Nonce = stored.Nonce
		if stored.Balance != nil {
			account.Balance.Set(stored.Balance)
		}
	}
	return account, nil
}

// PutAccount persists the account.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("account must not be nil")
	}
	balance := big.NewInt(0)
	if account.Balance != nil {
		if account.Balance.Sign() < 0 {
			return fmt.Errorf("negative balance not allowed")
		}
		balance.Set(account.Balance)
	}
	return m.KVPut(accountKey(addr), storedAccount{Nonce: account.Nonce, Balance: balance})
}

// Credit adds amount to the account balance.
func (m *Manager) Credit(addr []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("credit amount must not be negative")
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance.Add(account.Balance, amount)
	return m.PutAccount(addr, account)
}

// Debit subtracts amount from the account balance.
func (m *Manager) Debit(addr []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("debit amount must not be negative")
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	if account.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	account.Balance.Sub(account.Balance, amount)
	return m.PutAccount(addr, account)
}

// TransferBalance moves amount from one account to another.
func (m *Manager) TransferBalance(from, to []byte, amount *big.Int) error {
	if err := m.Debit(from, amount); err != nil {
		return err
	}
	return m.Credit(to, amount)
}
