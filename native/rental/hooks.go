package rental

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// HookHandler is the middleware contract bound to rental assets. Implementors
// observe rental lifecycle events and may veto wallet transactions.
type HookHandler interface {
	OnRentalStart(wallet [20]byte, item RentalItem, extra []byte) error
	OnRentalStop(wallet [20]byte, item RentalItem, extra []byte) error
	OnTransaction(wallet [20]byte, to [20]byte, value *big.Int, data []byte) error
}

// HookFailureClass distinguishes the three ways a hook can fail so callers can
// assert on hook behaviour without decoding every hook's internal error
// format.
type HookFailureClass uint8

const (
	// HookFailureReason is an explicit rejection carrying a reason string.
	HookFailureReason HookFailureClass = iota
	// HookFailurePanic is a runtime panic inside the hook, converted to a
	// descriptive string.
	HookFailurePanic
	// HookFailureOpaque is an undecodable failure; the raw bytes are
	// surfaced untouched.
	HookFailureOpaque
)

func (c HookFailureClass) String() string {
	switch c {
	case HookFailureReason:
		return "reason"
	case HookFailurePanic:
		return "panic"
	case HookFailureOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// HookError wraps a hook failure with its classification.
type HookError struct {
	Target [20]byte
	Class  HookFailureClass
	Reason string
	Raw    []byte
}

func (e *HookError) Error() string {
	switch e.Class {
	case HookFailurePanic:
		return fmt.Sprintf("rental: hook %x panicked: %s", e.Target, e.Reason)
	case HookFailureOpaque:
		return fmt.Sprintf("rental: hook %x failed with opaque data: %s", e.Target, hex.EncodeToString(e.Raw))
	default:
		return fmt.Sprintf("rental: hook %x rejected: %s", e.Target, e.Reason)
	}
}

// OpaqueHookError lets a handler surface raw failure bytes that the router
// should classify as opaque rather than a reasoned rejection.
type OpaqueHookError struct {
	Raw []byte
}

func (e *OpaqueHookError) Error() string {
	return fmt.Sprintf("opaque hook failure: %s", hex.EncodeToString(e.Raw))
}

// HookRouter dispatches lifecycle events to registered hook handlers and
// converts every failure mode into a classified HookError.
type HookRouter struct {
	handlers map[[20]byte]HookHandler
}

// NewHookRouter creates an empty hook router.
func NewHookRouter() *HookRouter {
	return &HookRouter{handlers: make(map[[20]byte]HookHandler)}
}

// Register binds a handler to a hook target address. A nil handler removes the
// binding.
func (r *HookRouter) Register(target [20]byte, handler HookHandler) {
	if handler == nil {
		delete(r.handlers, target)
		return
	}
	r.handlers[target] = handler
}

// Handler returns the handler registered for the target.
func (r *HookRouter) Handler(target [20]byte) (HookHandler, bool) {
	handler, ok := r.handlers[target]
	return handler, ok
}

// OnStart dispatches a rental-start event to the target hook.
func (r *HookRouter) OnStart(target [20]byte, wallet [20]byte, item RentalItem, extra []byte) error {
	handler, ok := r.handlers[target]
	if !ok {
		return fmt.Errorf("%w: %x", ErrHookNotRegistered, target)
	}
	return r.dispatch(target, func() error {
		return handler.OnRentalStart(wallet, item, extra)
	})
}

// OnStop dispatches a rental-stop event to the target hook.
func (r *HookRouter) OnStop(target [20]byte, wallet [20]byte, item RentalItem, extra []byte) error {
	handler, ok := r.handlers[target]
	if !ok {
		return fmt.Errorf("%w: %x", ErrHookNotRegistered, target)
	}
	return r.dispatch(target, func() error {
		return handler.OnRentalStop(wallet, item, extra)
	})
}

// OnTransaction forwards a wallet transaction to the target hook for a
// verdict.
func (r *HookRouter) OnTransaction(target [20]byte, wallet [20]byte, to [20]byte, value *big.Int, data []byte) error {
	handler, ok := r.handlers[target]
	if !ok {
		return fmt.Errorf("%w: %x", ErrHookNotRegistered, target)
	}
	return r.dispatch(target, func() error {
		return handler.OnTransaction(wallet, to, value, data)
	})
}

func (r *HookRouter) dispatch(target [20]byte, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &HookError{
				Target: target,
				Class:  HookFailurePanic,
				Reason: fmt.Sprintf("%v", recovered),
			}
		}
	}()
	callErr := fn()
	if callErr == nil {
		return nil
	}
	if opaque, ok := callErr.(*OpaqueHookError); ok {
		return &HookError{
			Target: target,
			Class:  HookFailureOpaque,
			Raw:    append([]byte(nil), opaque.Raw...),
		}
	}
	return &HookError{
		Target: target,
		Class:  HookFailureReason,
		Reason: callErr.Error(),
	}
}
