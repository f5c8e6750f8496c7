package certificate

import (
	"codice/core/events"
)

func (e *Engine) requireRole(role RoleID, account [20]byte) error {
	if e.state.HasRole(e.ledger[:], role, account[:]) {
		return nil
	}
	return &MissingRoleError{Account: account, Role: role}
}

func (e *Engine) grant(sender [20]byte, role RoleID, account [20]byte, emit func(events.Event)) error {
	changed, err := e.state.SetRole(e.ledger[:], role, account[:])
	if err != nil {
		return err
	}
	if changed {
		emit(RoleEvent{Type: EventTypeRoleGranted, Ledger: e.ledger, Role: role, Account: account, Sender: sender})
	}
	return nil
}

func (e *Engine) revoke(sender [20]byte, role RoleID, account [20]byte, emit func(events.Event)) error {
	changed, err := e.state.RemoveRole(e.ledger[:], role, account[:])
	if err != nil {
		return err
	}
	if changed {
		emit(RoleEvent{Type: EventTypeRoleRevoked, Ledger: e.ledger, Role: role, Account: account, Sender: sender})
	}
	return nil
}

// GrantRole adds account to role. The caller must be an administrator.
// Granting a role the account already holds succeeds without an event.
func (e *Engine) GrantRole(caller [20]byte, role RoleID, account [20]byte) error {
	return e.apply(func(emit func(events.Event)) error {
		if _, err := e.loadCollection(); err != nil {
			return err
		}
		if err := e.requireRole(AdminRole, caller); err != nil {
			return err
		}
		if account == ([20]byte{}) {
			return ErrZeroAddress
		}
		return e.grant(caller, role, account, emit)
	})
}

// RevokeRole removes account from role. The caller must be an administrator.
func (e *Engine) RevokeRole(caller [20]byte, role RoleID, account [20]byte) error {
	return e.apply(func(emit func(events.Event)) error {
		if _, err := e.loadCollection(); err != nil {
			return err
		}
		if err := e.requireRole(AdminRole, caller); err != nil {
			return err
		}
		return e.revoke(caller, role, account, emit)
	})
}

// RenounceRole drops the caller's own membership in role.
func (e *Engine) RenounceRole(caller [20]byte, role RoleID) error {
	return e.apply(func(emit func(events.Event)) error {
		if _, err := e.loadCollection(); err != nil {
			return err
		}
		return e.revoke(caller, role, caller, emit)
	})
}

// HasRole reports whether account holds role on this ledger.
func (e *Engine) HasRole(role RoleID, account [20]byte) bool {
	if e == nil || e.state == nil {
		return false
	}
	return e.state.HasRole(e.ledger[:], role, account[:])
}

// RoleMembers lists the holders of role in ascending address order.
func (e *Engine) RoleMembers(role RoleID) ([][20]byte, error) {
	if _, err := e.loadCollection(); err != nil {
		return nil, err
	}
	raw, err := e.state.RoleMembers(e.ledger[:], role)
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(raw))
	for _, member := range raw {
		var addr [20]byte
		copy(addr[:], member)
		out = append(out, addr)
	}
	return out, nil
}
