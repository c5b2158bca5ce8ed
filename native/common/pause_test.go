package common

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
)

type fakeState struct {
	kv    map[string][]byte
	roles map[string]map[string]bool
}

func newFakeState() *fakeState {
	return &fakeState{kv: make(map[string][]byte), roles: make(map[string]map[string]bool)}
}

func (f *fakeState) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := f.kv[string(key)]
	if !ok {
		return false, nil
	}
	return true, rlp.DecodeBytes(encoded, out)
}

func (f *fakeState) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	f.kv[string(key)] = encoded
	return nil
}

func (f *fakeState) KVDelete(key []byte) error {
	delete(f.kv, string(key))
	return nil
}

func (f *fakeState) HasRole(role string, addr []byte) bool {
	return f.roles[role][string(addr)]
}

func (f *fakeState) grant(role string, addr [20]byte) {
	if f.roles[role] == nil {
		f.roles[role] = make(map[string]bool)
	}
	f.roles[role][string(addr[:])] = true
}

func TestPausesRoundTrip(t *testing.T) {
	st := newFakeState()
	admin := [20]byte{19: 0xAD}
	st.grant("ROLE_ADMIN", admin)
	pauses := NewPauses(st, "ROLE_ADMIN")

	if pauses.IsPaused("rental") {
		t.Fatal("fresh registry should not be paused")
	}
	if err := pauses.SetPaused(admin, "rental", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !pauses.IsPaused("rental") {
		t.Fatal("module should be paused")
	}
	if pauses.IsPaused("escrow") {
		t.Fatal("pause must be scoped to the named module")
	}
	if err := pauses.SetPaused(admin, "rental", false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if pauses.IsPaused("rental") {
		t.Fatal("module should be unpaused")
	}
}

func TestPausesRejectUnauthorizedCaller(t *testing.T) {
	st := newFakeState()
	pauses := NewPauses(st, "ROLE_ADMIN")

	err := pauses.SetPaused([20]byte{19: 0x01}, "rental", true)
	if !errors.Is(err, ErrPauseUnauthorized) {
		t.Fatalf("expected ErrPauseUnauthorized, got %v", err)
	}
}

func TestGuardAllowsNilView(t *testing.T) {
	if err := Guard(nil, "rental"); err != nil {
		t.Fatalf("nil view must allow: %v", err)
	}
	st := newFakeState()
	admin := [20]byte{19: 0xAD}
	st.grant("ROLE_ADMIN", admin)
	pauses := NewPauses(st, "ROLE_ADMIN")
	if err := pauses.SetPaused(admin, "rental", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := Guard(pauses, "rental"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}
