package common

import "errors"

// ErrModulePaused is returned by Guard when the named module has been frozen
// by governance.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switches maintained by the admin surface.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects calls into a paused module. A nil view or empty module name
// disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
