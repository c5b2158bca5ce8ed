package common

import (
	"errors"
	"fmt"
)

// ErrPauseUnauthorized is returned when the caller lacks the admin role
// required to flip a pause switch.
var ErrPauseUnauthorized = errors.New("gov: pause unauthorized")

var pausePrefix = []byte("gov/paused/")

type pauseState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	HasRole(role string, addr []byte) bool
}

// Pauses is the state-backed registry of module freeze switches. Engines
// consult it through the PauseView interface on every mutating entry point.
type Pauses struct {
	st   pauseState
	role string
}

// NewPauses creates a pause registry gated by the given admin role.
func NewPauses(st pauseState, adminRole string) *Pauses {
	return &Pauses{st: st, role: adminRole}
}

func pauseKey(module string) []byte {
	key := make([]byte, len(pausePrefix)+len(module))
	copy(key, pausePrefix)
	copy(key[len(pausePrefix):], module)
	return key
}

// IsPaused reports whether the module is frozen. Read failures count as not
// paused so a corrupt switch cannot brick the protocol.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil || p.st == nil {
		return false
	}
	var paused bool
	if _, err := p.st.KVGet(pauseKey(module), &paused); err != nil {
		return false
	}
	return paused
}

// SetPaused flips the freeze switch for a module. The caller must hold the
// registry's admin role.
func (p *Pauses) SetPaused(caller [20]byte, module string, paused bool) error {
	if module == "" {
		return fmt.Errorf("gov: module name required")
	}
	if p.role != "" && !p.st.HasRole(p.role, caller[:]) {
		return ErrPauseUnauthorized
	}
	key := pauseKey(module)
	if !paused {
		return p.st.KVDelete(key)
	}
	return p.st.KVPut(key, true)
}
