package rental

import (
	"fmt"
	"time"

	"rentchain/core/events"

	nativecommon "rentchain/native/common"
)

// StopEngine tears active rentals down: it reclaims the rented assets from the
// custody wallet, settles escrowed payments, clears the ledger entry and emits
// the stopped event. Orders are reconstructed from the rental-started event;
// the engine re-derives the hash and only trusts orders the ledger marks
// active.
type StopEngine struct {
	ledger  *Ledger
	escrow  *PaymentEscrow
	wallets WalletExecutor
	hooks   *HookRouter
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() uint64
	addr    [20]byte
}

// NewStopEngine creates a stop engine operating under the given module
// identity. The identity must hold the RemoveRentals and escrow settle
// capabilities.
func NewStopEngine(ledger *Ledger, escrow *PaymentEscrow, wallets WalletExecutor, addr [20]byte) *StopEngine {
	return &StopEngine{
		ledger:  ledger,
		escrow:  escrow,
		wallets: wallets,
		hooks:   NewHookRouter(),
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
		addr:    addr,
	}
}

// SetHooks replaces the hook router. Passing nil resets to an empty router.
func (s *StopEngine) SetHooks(router *HookRouter) {
	if router == nil {
		s.hooks = NewHookRouter()
		return
	}
	s.hooks = router
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (s *StopEngine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

// SetPauses configures the governance pause view.
func (s *StopEngine) SetPauses(p nativecommon.PauseView) {
	if s == nil {
		return
	}
	s.pauses = p
}

// SetNowFunc overrides the time source, primarily used in tests.
func (s *StopEngine) SetNowFunc(now func() uint64) {
	if now == nil {
		s.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	s.nowFn = now
}

func (s *StopEngine) now() uint64 {
	if s == nil || s.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return s.nowFn()
}

func (s *StopEngine) emit(evt *rentalEvent) {
	if s == nil || s.emitter == nil || evt == nil {
		return
	}
	s.emitter.Emit(evt)
}

// Stop ends a single rental. BASE orders stop permissionlessly once expired;
// PAY orders additionally let the lender stop early, triggering a pro-rata
// payment split in the escrow.
func (s *StopEngine) Stop(caller [20]byte, order *RentalOrder) error {
	if err := nativecommon.Guard(s.pauses, moduleName); err != nil {
		return err
	}
	sanitized, err := SanitizeOrder(order)
	if err != nil {
		return err
	}
	if err := s.checkStoppable(caller, sanitized); err != nil {
		return err
	}
	err = runAtomic(s.ledger.st, func() error {
		return s.teardown(sanitized)
	})
	if err != nil {
		return err
	}
	s.emit(NewRentalStoppedEvent(sanitized.Hash(), sanitized.TradeHash, sanitized.Kind, caller))
	return nil
}

// StopBatch ends multiple rentals atomically: every order is checked before
// any teardown runs, and the teardown writes of the whole batch commit as one
// snapshot. A failure on any order rolls every preceding teardown back.
func (s *StopEngine) StopBatch(caller [20]byte, orders []*RentalOrder) error {
	if err := nativecommon.Guard(s.pauses, moduleName); err != nil {
		return err
	}
	sanitized := make([]*RentalOrder, len(orders))
	for i, order := range orders {
		clean, err := SanitizeOrder(order)
		if err != nil {
			return err
		}
		if err := s.checkStoppable(caller, clean); err != nil {
			return err
		}
		sanitized[i] = clean
	}
	err := runAtomic(s.ledger.st, func() error {
		for _, order := range sanitized {
			if err := s.teardown(order); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, order := range sanitized {
		s.emit(NewRentalStoppedEvent(order.Hash(), order.TradeHash, order.Kind, caller))
	}
	return nil
}

// checkStoppable verifies the order exists and that the caller is entitled to
// stop it at the current time.
func (s *StopEngine) checkStoppable(caller [20]byte, order *RentalOrder) error {
	active, err := s.ledger.IsOrderActive(order.Hash())
	if err != nil {
		return err
	}
	if !active {
		return ErrOrderDoesNotExist
	}
	now := s.now()
	// Stopping within the start block would let an order open and close in
	// one transaction, so same-instant stops are rejected outright.
	if now <= order.StartTime {
		return fmt.Errorf("%w: rental has not progressed past its start", ErrCannotStopOrder)
	}
	switch order.Kind {
	case OrderKindBase:
		if now < order.EndTime {
			return fmt.Errorf("%w: base order expires at %d", ErrCannotStopOrder, order.EndTime)
		}
		return nil
	case OrderKindPay:
		if caller == order.Lender {
			return nil
		}
		if now < order.EndTime {
			return fmt.Errorf("%w: only the lender may stop a pay order early", ErrCannotStopOrder)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrOrderKindNotSupported, order.Kind)
	}
}

// teardown applies the stop effects in a fixed sequence: assets return to the
// lender first, then payments settle, stop hooks fire, and only then does the
// ledger entry clear. Callers run it inside a state snapshot and emit the
// stopped event after commit, so a mid-teardown failure leaves the order
// fully intact and unannounced.
func (s *StopEngine) teardown(order *RentalOrder) error {
	orderHash := order.Hash()
	rentals := order.RentalAssets()
	if err := s.wallets.ReclaimRentals(order.Wallet, order.Lender, rentals); err != nil {
		return err
	}
	if err := s.escrow.Settle(s.addr, order); err != nil {
		return err
	}
	if err := s.runStopHooks(order); err != nil {
		return err
	}
	updates := make([]RentalAssetUpdate, 0, len(rentals))
	for _, item := range rentals {
		updates = append(updates, RentalAssetUpdate{ID: item.RentalID(order.Wallet), Amount: item.Amount})
	}
	return s.ledger.RemoveRentals(s.addr, orderHash, updates)
}

func (s *StopEngine) runStopHooks(order *RentalOrder) error {
	for _, hook := range order.Hooks {
		if hook.ItemIndex >= uint64(len(order.Items)) {
			return fmt.Errorf("rental: hook item index %d out of range", hook.ItemIndex)
		}
		item := order.Items[hook.ItemIndex]
		if !item.IsRental() {
			return fmt.Errorf("%w: index %d", ErrHookItemNotRental, hook.ItemIndex)
		}
		flags, err := s.ledger.HookFlags(hook.Target)
		if err != nil {
			return err
		}
		if !flags.OnStop {
			// A hook approved only for start must not block teardown.
			continue
		}
		if err := s.hooks.OnStop(hook.Target, order.Wallet, item, hook.Extra); err != nil {
			return err
		}
	}
	return nil
}
