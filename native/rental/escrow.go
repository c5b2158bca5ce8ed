package rental

import (
	"fmt"
	"math/big"
	"time"

	"rentchain/core/events"

	nativecommon "rentchain/native/common"
)

var (
	escrowBalancePrefix = []byte("rental/escrow/balance/")
	escrowFeeKey        = []byte("rental/escrow/fee")
)

const feeDenominator = 10_000

// TokenBank abstracts the external ERC20 transfer surface used by the escrow.
// Transfers debit the escrow module's own account.
type TokenBank interface {
	BalanceOf(token [20]byte, holder [20]byte) (*big.Int, error)
	Transfer(token [20]byte, to [20]byte, amount *big.Int) error
}

// PaymentEscrow tracks a synced per-token deposit balance and settles rental
// payments either pro-rata or in full. The synced balance is independent of
// the real token balance so that accidental transfers and accrued fees can be
// skimmed without disturbing funds owed to active orders.
type PaymentEscrow struct {
	st      protocolState
	bank    TokenBank
	auth    *AuthTable
	addr    [20]byte
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() uint64
}

// NewPaymentEscrow creates an escrow engine holding funds at the given module
// address.
func NewPaymentEscrow(st protocolState, bank TokenBank, auth *AuthTable, addr [20]byte) *PaymentEscrow {
	return &PaymentEscrow{
		st:      st,
		bank:    bank,
		auth:    auth,
		addr:    addr,
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// Address returns the module address at which the escrow holds real balances.
func (e *PaymentEscrow) Address() [20]byte { return e.addr }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *PaymentEscrow) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the governance pause view.
func (e *PaymentEscrow) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *PaymentEscrow) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

func (e *PaymentEscrow) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *PaymentEscrow) emit(evt *rentalEvent) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Fee returns the configured fee numerator.
func (e *PaymentEscrow) Fee() (uint64, error) {
	var fee uint64
	if _, err := e.st.KVGet(escrowFeeKey, &fee); err != nil {
		return 0, err
	}
	return fee, nil
}

// SetFee updates the fee numerator. A numerator above 10000 (100%) is
// rejected.
func (e *PaymentEscrow) SetFee(caller [20]byte, numerator uint64) error {
	if !e.st.HasRole(RoleRentalAdmin, caller[:]) {
		return ErrUnauthorized
	}
	if numerator > feeDenominator {
		return fmt.Errorf("%w: %d", ErrInvalidFeeNumerator, numerator)
	}
	return e.st.KVPut(escrowFeeKey, numerator)
}

// Balance returns the synced deposit balance for a token.
func (e *PaymentEscrow) Balance(token [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := e.st.KVGet(prefixedKey(escrowBalancePrefix, token[:]), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// IncreaseDeposit records an inbound payment for a starting rental. Zero
// amounts are rejected.
func (e *PaymentEscrow) IncreaseDeposit(caller [20]byte, token [20]byte, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.auth.Require(caller, OpEscrowDeposit); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroPayment
	}
	balance, err := e.Balance(token)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(balance, amount)
	return e.st.KVPut(prefixedKey(escrowBalancePrefix, token[:]), next)
}

func (e *PaymentEscrow) decreaseDeposit(token [20]byte, amount *big.Int) error {
	balance, err := e.Balance(token)
	if err != nil {
		return err
	}
	next := new(big.Int).Sub(balance, amount)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: %s", ErrEscrowBalanceUnderflow, next)
	}
	key := prefixedKey(escrowBalancePrefix, token[:])
	if next.Sign() == 0 {
		return e.st.KVDelete(key)
	}
	return e.st.KVPut(key, next)
}

// Settle pays out every ERC20 item of the order. The synced balance decreases
// by the pre-fee amount; the fee stays in the escrow's real balance as
// protocol revenue until skimmed.
func (e *PaymentEscrow) Settle(caller [20]byte, order *RentalOrder) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.auth.Require(caller, OpEscrowSettle); err != nil {
		return err
	}
	fee, err := e.Fee()
	if err != nil {
		return err
	}
	elapsed, total := e.elapsedTime(order)
	for _, item := range order.Items {
		if !item.IsPayment() {
			continue
		}
		if err := e.settlePayment(order, item, fee, elapsed, total); err != nil {
			return err
		}
	}
	return nil
}

func (e *PaymentEscrow) elapsedTime(order *RentalOrder) (uint64, uint64) {
	now := e.now()
	total := order.EndTime - order.StartTime
	if now <= order.StartTime {
		return 0, total
	}
	return now - order.StartTime, total
}

func (e *PaymentEscrow) settlePayment(order *RentalOrder, item RentalItem, feeNumerator uint64, elapsed, total uint64) error {
	amount := cloneBigInt(item.Amount)
	if amount.Sign() <= 0 {
		return ErrZeroPayment
	}
	if err := e.decreaseDeposit(item.Token, amount); err != nil {
		return err
	}
	net := amount
	if feeNumerator > 0 {
		feeAmount := new(big.Int).Mul(amount, new(big.Int).SetUint64(feeNumerator))
		feeAmount.Div(feeAmount, big.NewInt(feeDenominator))
		net = new(big.Int).Sub(amount, feeAmount)
	}
	switch {
	case order.Kind == OrderKindPay && elapsed < total:
		renterAmount, lenderAmount := proRataSplit(net, elapsed, total)
		if renterAmount.Sign() > 0 {
			if err := e.bank.Transfer(item.Token, order.Renter, renterAmount); err != nil {
				return err
			}
		}
		if lenderAmount.Sign() > 0 {
			if err := e.bank.Transfer(item.Token, order.Lender, lenderAmount); err != nil {
				return err
			}
		}
		e.emit(NewEscrowSettledEvent(order.Hash(), item.Token, net.String(), "prorata"))
		return nil
	case order.Kind == OrderKindBase || order.Kind == OrderKindPay:
		recipient := order.Lender
		if item.SettleTo == SettleToRenter {
			recipient = order.Renter
		}
		if net.Sign() > 0 {
			if err := e.bank.Transfer(item.Token, recipient, net); err != nil {
				return err
			}
		}
		e.emit(NewEscrowSettledEvent(order.Hash(), item.Token, net.String(), "full"))
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrOrderKindNotSupported, order.Kind)
	}
}

// proRataSplit computes the time-weighted renter share using the historical
// integer algorithm: scale by 1000, bump by 500 before the final division so
// the share rounds half-up. The lender receives the exact remainder, leaving
// no token unaccounted.
func proRataSplit(amount *big.Int, elapsed, total uint64) (*big.Int, *big.Int) {
	numerator := new(big.Int).Mul(amount, new(big.Int).SetUint64(elapsed))
	numerator.Mul(numerator, big.NewInt(1000))
	numerator.Div(numerator, new(big.Int).SetUint64(total))
	numerator.Add(numerator, big.NewInt(500))
	renter := numerator.Div(numerator, big.NewInt(1000))
	lender := new(big.Int).Sub(amount, renter)
	return renter, lender
}

// Skim transfers the difference between the escrow's real token balance and
// its synced deposit balance. This is the only path extracting protocol fees
// and accidental transfers; it can never move funds owed to an active order.
func (e *PaymentEscrow) Skim(caller [20]byte, token [20]byte, to [20]byte) (*big.Int, error) {
	if !e.st.HasRole(RoleRentalAdmin, caller[:]) {
		return nil, ErrUnauthorized
	}
	real, err := e.bank.BalanceOf(token, e.addr)
	if err != nil {
		return nil, err
	}
	synced, err := e.Balance(token)
	if err != nil {
		return nil, err
	}
	delta := new(big.Int).Sub(real, synced)
	if delta.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := e.bank.Transfer(token, to, delta); err != nil {
		return nil, err
	}
	return delta, nil
}
