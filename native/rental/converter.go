package rental

import (
	"fmt"
	"time"

	"rentchain/core/events"

	nativecommon "rentchain/native/common"
)

// Converter transforms a settlement-engine callback into a validated rental
// order. It is the single funnel for every execution: whitelist and
// composition checks run here before any ledger entry or escrow deposit is
// recorded.
type Converter struct {
	ledger  *Ledger
	escrow  *PaymentEscrow
	wallets WalletRegistry
	hooks   *HookRouter
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() uint64
	addr    [20]byte
}

// NewConverter creates a converter operating under the given module identity.
// The identity must hold the AddRentals and escrow deposit capabilities.
func NewConverter(ledger *Ledger, escrow *PaymentEscrow, wallets WalletRegistry, addr [20]byte) *Converter {
	return &Converter{
		ledger:  ledger,
		escrow:  escrow,
		wallets: wallets,
		hooks:   NewHookRouter(),
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
		addr:    addr,
	}
}

// Hooks returns the hook router consulted on rental start.
func (c *Converter) Hooks() *HookRouter { return c.hooks }

// SetHooks replaces the hook router. Passing nil resets to an empty router.
func (c *Converter) SetHooks(router *HookRouter) {
	if router == nil {
		c.hooks = NewHookRouter()
		return
	}
	c.hooks = router
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (c *Converter) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetPauses configures the governance pause view.
func (c *Converter) SetPauses(p nativecommon.PauseView) {
	if c == nil {
		return
	}
	c.pauses = p
}

// SetNowFunc overrides the time source, primarily used in tests.
func (c *Converter) SetNowFunc(now func() uint64) {
	if now == nil {
		c.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	c.nowFn = now
}

func (c *Converter) now() uint64 {
	if c == nil || c.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return c.nowFn()
}

func (c *Converter) emit(evt *rentalEvent) {
	if c == nil || c.emitter == nil || evt == nil {
		return
	}
	c.emitter.Emit(evt)
}

// ValidateOrder is the settlement callback entry point. It validates the
// settled trade against the signed rent payload, records the rental in the
// ledger and escrow, invokes start hooks and emits the canonical
// rental-started event. The returned acknowledgement must equal SettlementAck
// or the settlement engine aborts the trade.
func (c *Converter) ValidateOrder(params *SettlementParams) ([4]byte, *RentalOrder, error) {
	var zero [4]byte
	if err := nativecommon.Guard(c.pauses, moduleName); err != nil {
		return zero, nil, err
	}
	if params == nil {
		return zero, nil, fmt.Errorf("rental: nil settlement params")
	}
	if params.Mode != SettlementModeFull {
		return zero, nil, fmt.Errorf("%w: %d", ErrUnsupportedSettlementMode, params.Mode)
	}
	payload := params.Payload
	if payload == nil {
		return zero, nil, fmt.Errorf("rental: settlement params missing rent payload")
	}
	if payload.TradeHash != params.TradeHash {
		return zero, nil, ErrTradeHashMismatch
	}
	metadata := payload.Metadata
	limits, err := c.ledger.Params()
	if err != nil {
		return zero, nil, err
	}
	if metadata.RentDuration == 0 {
		return zero, nil, ErrRentDurationInvalid
	}
	if metadata.RentDuration > limits.MaxRentDuration {
		return zero, nil, fmt.Errorf("%w: %d > %d", ErrRentDurationTooLong, metadata.RentDuration, limits.MaxRentDuration)
	}
	now := c.now()
	if payload.Expiration != 0 && now > payload.Expiration {
		return zero, nil, ErrSignatureExpired
	}
	if metadata.Hash() != params.MetadataHash {
		return zero, nil, ErrMetadataHashMismatch
	}
	if payload.IntendedFulfiller != params.Fulfiller {
		return zero, nil, ErrFulfillerMismatch
	}
	signer, err := RecoverPayloadSigner(payload, params.Signature)
	if err != nil {
		return zero, nil, err
	}
	if !c.ledger.HasSignerRole(signer) {
		return zero, nil, fmt.Errorf("%w: %x", ErrSignerUnauthorized, signer)
	}
	if _, deployed, err := c.ledger.WalletNonce(payload.Wallet); err != nil {
		return zero, nil, err
	} else if !deployed {
		return zero, nil, fmt.Errorf("%w: %x", ErrWalletNotDeployed, payload.Wallet)
	}
	isOwner, err := c.wallets.IsOwner(payload.Wallet, params.Fulfiller)
	if err != nil {
		return zero, nil, err
	}
	if !isOwner {
		return zero, nil, fmt.Errorf("%w: %x", ErrNotWalletOwner, params.Fulfiller)
	}
	for _, item := range params.Consideration {
		if item.Recipient == params.Offerer {
			return zero, nil, ErrSelfPaymentRecipient
		}
	}
	if err := c.checkExecutions(params, payload.Wallet); err != nil {
		return zero, nil, err
	}
	items, err := classifyItems(metadata.Kind, params.Offer, params.Consideration, limits)
	if err != nil {
		return zero, nil, err
	}
	if err := c.checkWhitelists(items); err != nil {
		return zero, nil, err
	}
	if metadata.Kind == OrderKindPayee {
		// PAYEE legs are a bookkeeping mirror of the PAY side; they never
		// open a ledger entry of their own.
		return SettlementAck, nil, nil
	}
	order := &RentalOrder{
		TradeHash: params.TradeHash,
		Items:     items,
		Hooks:     metadata.Clone().Hooks,
		Kind:      metadata.Kind,
		Lender:    params.Offerer,
		Renter:    params.Fulfiller,
		Wallet:    payload.Wallet,
		StartTime: now,
		EndTime:   now + metadata.RentDuration,
	}
	orderHash := order.Hash()
	updates := make([]RentalAssetUpdate, 0, len(order.Items))
	for _, item := range order.Items {
		if item.IsRental() {
			updates = append(updates, RentalAssetUpdate{ID: item.RentalID(order.Wallet), Amount: item.Amount})
		}
	}
	// The ledger entry, escrow deposits and start hooks commit as one
	// snapshot: a failing hook must not leave an order behind.
	err = runAtomic(c.ledger.st, func() error {
		if err := c.ledger.AddRentals(c.addr, orderHash, updates); err != nil {
			return err
		}
		for _, item := range order.Items {
			if item.IsPayment() {
				if err := c.escrow.IncreaseDeposit(c.addr, item.Token, item.Amount); err != nil {
					return err
				}
			}
		}
		return c.runStartHooks(order)
	})
	if err != nil {
		return zero, nil, err
	}
	c.emit(NewRentalStartedEvent(order, metadata.ExtraData))
	return SettlementAck, order.Clone(), nil
}

// checkExecutions verifies that every post-settlement transfer landed at the
// correct destination: payments at the escrow, rental assets at the custody
// wallet.
func (c *Converter) checkExecutions(params *SettlementParams, wallet [20]byte) error {
	escrowAddr := c.escrow.Address()
	for _, execution := range params.Executions {
		switch {
		case execution.Kind.IsPayment():
			if execution.To != escrowAddr {
				return fmt.Errorf("%w: payment %x routed to %x", ErrInvalidExecution, execution.Token, execution.To)
			}
		case execution.Kind.IsRental():
			if execution.To != wallet {
				return fmt.Errorf("%w: asset %x routed to %x", ErrInvalidExecution, execution.Token, execution.To)
			}
		default:
			return fmt.Errorf("rental: invalid execution item kind: %d", execution.Kind)
		}
	}
	return nil
}

func (c *Converter) checkWhitelists(items []RentalItem) error {
	for _, item := range items {
		if item.IsRental() {
			flags, err := c.ledger.AssetFlags(item.Token)
			if err != nil {
				return err
			}
			if !flags.Rentable {
				return fmt.Errorf("%w: %x", ErrAssetNotWhitelisted, item.Token)
			}
			continue
		}
		allowed, err := c.ledger.PaymentAllowed(item.Token)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: %x", ErrPaymentNotWhitelisted, item.Token)
		}
	}
	return nil
}

func (c *Converter) runStartHooks(order *RentalOrder) error {
	for _, hook := range order.Hooks {
		if hook.ItemIndex >= uint64(len(order.Items)) {
			return fmt.Errorf("rental: hook item index %d out of range", hook.ItemIndex)
		}
		item := order.Items[hook.ItemIndex]
		if !item.IsRental() {
			return fmt.Errorf("%w: index %d", ErrHookItemNotRental, hook.ItemIndex)
		}
		flags, err := c.ledger.HookFlags(hook.Target)
		if err != nil {
			return err
		}
		if !flags.OnStart {
			return fmt.Errorf("%w: %x", ErrHookDisabled, hook.Target)
		}
		if err := c.hooks.OnStart(hook.Target, order.Wallet, item, hook.Extra); err != nil {
			return err
		}
	}
	return nil
}

// classifyItems applies the per-kind item grammar and returns the canonical
// rental items of the order.
func classifyItems(kind OrderKind, offer []SpentItem, consideration []ReceivedItem, limits Params) ([]RentalItem, error) {
	if uint64(len(offer)) > limits.MaxOfferItems {
		return nil, fmt.Errorf("%w: %d", ErrTooManyOfferItems, len(offer))
	}
	if uint64(len(consideration)) > limits.MaxConsiderationItems {
		return nil, fmt.Errorf("%w: %d", ErrTooManyConsiderationItems, len(consideration))
	}
	switch kind {
	case OrderKindBase:
		return classifyBase(offer, consideration)
	case OrderKindPay:
		return classifyPay(offer, consideration)
	case OrderKindPayee:
		return classifyPayee(offer, consideration)
	default:
		return nil, fmt.Errorf("%w: %s", ErrOrderKindNotSupported, kind)
	}
}

// classifyBase enforces the BASE grammar: the offer is rental assets only and
// the consideration is lender-bound payments only, with at least one of each.
func classifyBase(offer []SpentItem, consideration []ReceivedItem) ([]RentalItem, error) {
	if len(offer) == 0 {
		return nil, ErrOfferEmpty
	}
	if len(consideration) == 0 {
		return nil, ErrConsiderationEmpty
	}
	items := make([]RentalItem, 0, len(offer)+len(consideration))
	for _, spent := range offer {
		if !spent.Kind.IsRental() {
			return nil, fmt.Errorf("%w: base offer contains %s", ErrUnexpectedItemKind, spent.Kind)
		}
		items = append(items, RentalItem{
			Kind:       spent.Kind,
			SettleTo:   SettleToLender,
			Token:      spent.Token,
			Amount:     cloneBigInt(spent.Amount),
			Identifier: cloneBigInt(spent.Identifier),
		})
	}
	for _, received := range consideration {
		if !received.Kind.IsPayment() {
			return nil, fmt.Errorf("%w: base consideration contains %s", ErrUnexpectedItemKind, received.Kind)
		}
		items = append(items, RentalItem{
			Kind:       received.Kind,
			SettleTo:   SettleToLender,
			Token:      received.Token,
			Amount:     cloneBigInt(received.Amount),
			Identifier: cloneBigInt(received.Identifier),
		})
	}
	return items, nil
}

// classifyPay enforces the PAY grammar: the offer mixes at least one rental
// asset (settled to the lender) and one renter-bound payment; the
// consideration must be empty.
func classifyPay(offer []SpentItem, consideration []ReceivedItem) ([]RentalItem, error) {
	if len(consideration) != 0 {
		return nil, ErrConsiderationNotEmpty
	}
	if len(offer) == 0 {
		return nil, ErrOfferEmpty
	}
	items := make([]RentalItem, 0, len(offer))
	rentals, payments := 0, 0
	for _, spent := range offer {
		switch {
		case spent.Kind.IsRental():
			rentals++
			items = append(items, RentalItem{
				Kind:       spent.Kind,
				SettleTo:   SettleToLender,
				Token:      spent.Token,
				Amount:     cloneBigInt(spent.Amount),
				Identifier: cloneBigInt(spent.Identifier),
			})
		case spent.Kind.IsPayment():
			payments++
			items = append(items, RentalItem{
				Kind:       spent.Kind,
				SettleTo:   SettleToRenter,
				Token:      spent.Token,
				Amount:     cloneBigInt(spent.Amount),
				Identifier: cloneBigInt(spent.Identifier),
			})
		default:
			return nil, fmt.Errorf("%w: pay offer contains %s", ErrUnexpectedItemKind, spent.Kind)
		}
	}
	if rentals == 0 {
		return nil, ErrMissingRentalAsset
	}
	if payments == 0 {
		return nil, ErrMissingPayment
	}
	return items, nil
}

// classifyPayee enforces the PAYEE grammar, the mirror of PAY used when a
// third party fulfils the paying leg: the offer must be empty and the
// consideration mixes rental assets and payments.
func classifyPayee(offer []SpentItem, consideration []ReceivedItem) ([]RentalItem, error) {
	if len(offer) != 0 {
		return nil, ErrOfferNotEmpty
	}
	if len(consideration) == 0 {
		return nil, ErrConsiderationEmpty
	}
	items := make([]RentalItem, 0, len(consideration))
	rentals, payments := 0, 0
	for _, received := range consideration {
		switch {
		case received.Kind.IsRental():
			rentals++
			items = append(items, RentalItem{
				Kind:       received.Kind,
				SettleTo:   SettleToLender,
				Token:      received.Token,
				Amount:     cloneBigInt(received.Amount),
				Identifier: cloneBigInt(received.Identifier),
			})
		case received.Kind.IsPayment():
			payments++
			items = append(items, RentalItem{
				Kind:       received.Kind,
				SettleTo:   SettleToRenter,
				Token:      received.Token,
				Amount:     cloneBigInt(received.Amount),
				Identifier: cloneBigInt(received.Identifier),
			})
		default:
			return nil, fmt.Errorf("%w: payee consideration contains %s", ErrUnexpectedItemKind, received.Kind)
		}
	}
	if rentals == 0 {
		return nil, ErrMissingRentalAsset
	}
	if payments == 0 {
		return nil, ErrMissingPayment
	}
	return items, nil
}
