package state

import (
	"bytes"
	"fmt"
	"sort"
)

func roleKey(scope []byte, role [32]byte) []byte {
	buf := make([]byte, 0, len("role/")+len(scope)+1+len(role))
	buf = append(buf, "role/"...)
	buf = append(buf, scope...)
	buf = append(buf, '/')
	buf = append(buf, role[:]...)
	return buf
}

// RoleMembers returns all addresses assigned to the role within scope, in
// ascending byte order.
func (m *Manager) RoleMembers(scope []byte, role [32]byte) ([][]byte, error) {
	var members [][]byte
	if err := m.KVGetList(roleKey(scope, role), &members); err != nil {
		return nil, err
	}
	return members, nil
}

// HasRole reports whether addr holds role within scope. Errors while reading
// the underlying state result in a false return.
func (m *Manager) HasRole(scope []byte, role [32]byte, addr []byte) bool {
	if len(addr) == 0 {
		return false
	}
	members, err := m.RoleMembers(scope, role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr) {
			return true
		}
	}
	return false
}

// SetRole adds addr to role within scope. The boolean reports whether the
// membership changed.
func (m *Manager) SetRole(scope []byte, role [32]byte, addr []byte) (bool, error) {
	if len(addr) == 0 {
		return false, fmt.Errorf("address must not be empty")
	}
	members, err := m.RoleMembers(scope, role)
	if err != nil {
		return false, err
	}
	for _, existing := range members {
		if bytes.Equal(existing, addr) {
			return false, nil
		}
	}
	members = append(members, append([]byte(nil), addr...))
	sort.Slice(members, func(i, j int) bool {
		return bytes.Compare(members[i], members[j]) < 0
	})
	if err := m.KVPut(roleKey(scope, role), members); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveRole removes addr from role within scope. The boolean reports whether
// the membership changed.
func (m *Manager) RemoveRole(scope []byte, role [32]byte, addr []byte) (bool, error) {
	members, err := m.RoleMembers(scope, role)
	if err != nil {
		return false, err
	}
	kept := members[:0]
	removed := false
	for _, existing := range members {
		if bytes.Equal(existing, addr) {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return false, nil
	}
	if len(kept) == 0 {
		return true, m.KVDelete(roleKey(scope, role))
	}
	return true, m.KVPut(roleKey(scope, role), kept)
}
