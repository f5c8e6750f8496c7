package state

import "fmt"

// ContractKind identifies the native engine bound to a deployed address.
type ContractKind uint8

const (
	ContractNone ContractKind = iota
	ContractLedger
	ContractCoordinator
)

func (k ContractKind) String() string {
	switch k {
	case ContractLedger:
		return "ledger"
	case ContractCoordinator:
		return "coordinator"
	default:
		return "none"
	}
}

type contractRecord struct {
	Kind    uint8
	Creator []byte
}

func contractKey(addr []byte) []byte {
	return append([]byte("contract/"), addr...)
}

// RegisterContract binds addr to the provided engine kind.
func (m *Manager) RegisterContract(addr []byte, kind ContractKind, creator []byte) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if existing, err := m.ContractKind(addr); err != nil {
		return err
	} else if existing != ContractNone {
		return fmt.Errorf("contract %x already registered", addr)
	}
	return m.KVPut(contractKey(addr), contractRecord{Kind: uint8(kind), Creator: append([]byte(nil), creator...)})
}

// ContractKind returns the engine kind registered at addr.
func (m *Manager) ContractKind(addr []byte) (ContractKind, error) {
	var record contractRecord
	ok, err := m.KVGet(contractKey(addr), &record)
	if err != nil || !ok {
		return ContractNone, err
	}
	return ContractKind(record.Kind), nil
}
