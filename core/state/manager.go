package state

import (
	"bytes"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"rentchain/storage"
)

// Manager provides typed read/write access to protocol state. Values are RLP
// encoded and keys are hashed with keccak256 before touching the underlying
// database so that callers can use readable prefixed keys.
//
// Writes can run inside a snapshot: Snapshot marks the current write position
// and every mutation after the mark is journaled with its pre-image until the
// snapshot is reverted or discarded. Engines use this to make multi-key
// operations all-or-nothing.
type Manager struct {
	db        storage.Database
	journal   []revision
	snapshots []int
}

// revision is the journaled pre-image of a single database key.
type revision struct {
	key     []byte
	prev    []byte
	existed bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var rolePrefix = []byte("role:")

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func roleKey(role string) []byte {
	buf := make([]byte, len(rolePrefix)+len(role))
	copy(buf, rolePrefix)
	copy(buf[len(rolePrefix):], role)
	return ethcrypto.Keccak256(buf)
}

// Snapshot marks the current write position and returns an identifier for a
// later RevertToSnapshot or DiscardSnapshot call. Snapshots nest.
func (m *Manager) Snapshot() int {
	mark := len(m.journal)
	m.snapshots = append(m.snapshots, mark)
	return mark
}

// RevertToSnapshot restores the pre-image of every key written since the
// matching Snapshot call, newest first, and releases the snapshot.
func (m *Manager) RevertToSnapshot(mark int) error {
	if mark < 0 || mark > len(m.journal) {
		return fmt.Errorf("state: invalid snapshot id %d", mark)
	}
	for i := len(m.journal) - 1; i >= mark; i-- {
		rev := m.journal[i]
		if rev.existed {
			if err := m.db.Put(rev.key, rev.prev); err != nil {
				return err
			}
			continue
		}
		if err := m.db.Delete(rev.key); err != nil {
			return err
		}
	}
	m.journal = m.journal[:mark]
	m.dropMarksFrom(mark)
	return nil
}

// DiscardSnapshot keeps the writes made since the matching Snapshot call and
// releases it. The journal is freed once the outermost snapshot is gone.
func (m *Manager) DiscardSnapshot(mark int) {
	m.dropMarksFrom(mark)
	if len(m.snapshots) == 0 {
		m.journal = m.journal[:0]
	}
}

func (m *Manager) dropMarksFrom(mark int) {
	for len(m.snapshots) > 0 && m.snapshots[len(m.snapshots)-1] >= mark {
		m.snapshots = m.snapshots[:len(m.snapshots)-1]
	}
}

// record journals the current value of a hashed key before it is overwritten
// or deleted. Outside a snapshot it is a no-op.
func (m *Manager) record(key []byte) error {
	if len(m.snapshots) == 0 {
		return nil
	}
	exists, err := m.db.Has(key)
	if err != nil {
		return err
	}
	rev := revision{key: append([]byte(nil), key...), existed: exists}
	if exists {
		prev, err := m.db.Get(key)
		if err != nil {
			return err
		}
		rev.prev = append([]byte(nil), prev...)
	}
	m.journal = append(m.journal, rev)
	return nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	hashed := kvKey(key)
	if err := m.record(hashed); err != nil {
		return err
	}
	return m.db.Put(hashed, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	exists, err := m.db.Has(kvKey(key))
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	data, err := m.db.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under the supplied key. Deleting a key
// that does not exist is a no-op.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	if err := m.record(hashed); err != nil {
		return err
	}
	return m.db.Delete(hashed)
}

// KVHas reports whether a value is stored under the supplied key.
func (m *Manager) KVHas(key []byte) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Has(kvKey(key))
}

// GrantRole adds the address to the member list of the named role. Duplicate
// grants are ignored to keep the stored list deterministic.
func (m *Manager) GrantRole(role string, addr []byte) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("state: role must not be empty")
	}
	if len(addr) == 0 {
		return fmt.Errorf("state: role member must not be empty")
	}
	members, err := m.roleMembers(trimmed)
	if err != nil {
		return err
	}
	for _, member := range members {
		if bytes.Equal(member, addr) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), addr...))
	encoded, err := rlp.EncodeToBytes(members)
	if err != nil {
		return err
	}
	key := roleKey(trimmed)
	if err := m.record(key); err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// RevokeRole removes the address from the member list of the named role.
func (m *Manager) RevokeRole(role string, addr []byte) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("state: role must not be empty")
	}
	members, err := m.roleMembers(trimmed)
	if err != nil {
		return err
	}
	filtered := members[:0]
	for _, member := range members {
		if !bytes.Equal(member, addr) {
			filtered = append(filtered, member)
		}
	}
	encoded, err := rlp.EncodeToBytes(filtered)
	if err != nil {
		return err
	}
	key := roleKey(trimmed)
	if err := m.record(key); err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// HasRole reports whether the address holds the named role.
func (m *Manager) HasRole(role string, addr []byte) bool {
	if len(addr) == 0 {
		return false
	}
	members, err := m.roleMembers(strings.TrimSpace(role))
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

func (m *Manager) roleMembers(role string) ([][]byte, error) {
	key := roleKey(role)
	exists, err := m.db.Has(key)
	if err != nil || !exists {
		return nil, err
	}
	data, err := m.db.Get(key)
	if err != nil {
		return nil, err
	}
	var members [][]byte
	if err := rlp.DecodeBytes(data, &members); err != nil {
		return nil, err
	}
	return members, nil
}
