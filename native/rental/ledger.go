package rental

import (
	"fmt"
	"math/big"

	nativecommon "rentchain/native/common"
)

const (
	// RoleRentalAdmin may toggle whitelists, limits and fees.
	RoleRentalAdmin = "ROLE_RENTAL_ADMIN"
	// RoleRentalSigner co-signs rent payloads; no rental starts without a
	// signature recovering to a holder of this role.
	RoleRentalSigner = "ROLE_RENTAL_SIGNER"

	moduleName = "rental"
)

// protocolState abstracts the subset of state manager functionality required
// by the rental ledger and escrow.
type protocolState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVHas(key []byte) (bool, error)
	HasRole(role string, addr []byte) bool
}

// snapshotState is the optional atomic write surface of a protocol state.
// The state manager implements it; engines run their multi-key write phases
// inside a snapshot so a failing step cannot leave a half-applied order.
type snapshotState interface {
	Snapshot() int
	RevertToSnapshot(mark int) error
	DiscardSnapshot(mark int)
}

// runAtomic executes fn inside a state snapshot when the backing state
// supports one. On error every journaled write is rolled back before the
// error is returned.
func runAtomic(st protocolState, fn func() error) error {
	snap, ok := st.(snapshotState)
	if !ok {
		return fn()
	}
	mark := snap.Snapshot()
	if err := fn(); err != nil {
		if revertErr := snap.RevertToSnapshot(mark); revertErr != nil {
			return fmt.Errorf("%w (state rollback failed: %v)", err, revertErr)
		}
		return err
	}
	snap.DiscardSnapshot(mark)
	return nil
}

var (
	activeOrderPrefix   = []byte("rental/order/")
	rentedAmountPrefix  = []byte("rental/rented/")
	assetFlagPrefix     = []byte("rental/whitelist/asset/")
	paymentFlagPrefix   = []byte("rental/whitelist/payment/")
	extensionFlagPrefix = []byte("rental/whitelist/extension/")
	delegateFlagPrefix  = []byte("rental/whitelist/delegate/")
	hookFlagPrefix      = []byte("rental/hook/")
	hookBindingPrefix   = []byte("rental/hook-binding/")
	walletNoncePrefix   = []byte("rental/wallet/")
	walletCountKey      = []byte("rental/wallet-count")
	paramsKey           = []byte("rental/params")
)

// Default global limits applied until governance overrides them.
const (
	DefaultMaxRentDuration       uint64 = 365 * 24 * 60 * 60
	DefaultMaxOfferItems         uint64 = 10
	DefaultMaxConsiderationItems uint64 = 10
)

// Params carries the admin-settable global caps.
type Params struct {
	MaxRentDuration       uint64
	MaxOfferItems         uint64
	MaxConsiderationItems uint64
}

// AssetFlags is the per-asset whitelist entry. The serialized form preserves
// the historical 2-bit layout: bit0 permit-restricted, bit1 rentable.
type AssetFlags struct {
	PermitRestricted bool
	Rentable         bool
}

func (f AssetFlags) bits() uint8 {
	var b uint8
	if f.PermitRestricted {
		b |= 1 << 0
	}
	if f.Rentable {
		b |= 1 << 1
	}
	return b
}

func assetFlagsFromBits(b uint8) AssetFlags {
	return AssetFlags{
		PermitRestricted: b&(1<<0) != 0,
		Rentable:         b&(1<<1) != 0,
	}
}

// ExtensionFlags is the per-extension whitelist entry. Serialized layout:
// bit0 disable-allowed, bit1 enable-allowed.
type ExtensionFlags struct {
	DisableAllowed bool
	EnableAllowed  bool
}

func (f ExtensionFlags) bits() uint8 {
	var b uint8
	if f.DisableAllowed {
		b |= 1 << 0
	}
	if f.EnableAllowed {
		b |= 1 << 1
	}
	return b
}

func extensionFlagsFromBits(b uint8) ExtensionFlags {
	return ExtensionFlags{
		DisableAllowed: b&(1<<0) != 0,
		EnableAllowed:  b&(1<<1) != 0,
	}
}

// HookFlags records which lifecycle events a hook middleware is approved for.
// Serialized layout: bit0 on-transaction, bit1 on-start, bit2 on-stop.
type HookFlags struct {
	OnTransaction bool
	OnStart       bool
	OnStop        bool
}

func (f HookFlags) bits() uint8 {
	var b uint8
	if f.OnTransaction {
		b |= 1 << 0
	}
	if f.OnStart {
		b |= 1 << 1
	}
	if f.OnStop {
		b |= 1 << 2
	}
	return b
}

func hookFlagsFromBits(b uint8) HookFlags {
	return HookFlags{
		OnTransaction: b&(1<<0) != 0,
		OnStart:       b&(1<<1) != 0,
		OnStop:        b&(1<<2) != 0,
	}
}

// RentalAssetUpdate pairs a rented-amount counter key with the amount to apply
// on start or stop.
type RentalAssetUpdate struct {
	ID     RentalID
	Amount *big.Int
}

// Ledger is the authoritative store of active rental orders, rented-amount
// counters, whitelists and global limits. Mutating protocol operations are
// gated by the authorization table; admin operations require
// RoleRentalAdmin.
type Ledger struct {
	st     protocolState
	auth   *AuthTable
	pauses nativecommon.PauseView
}

// NewLedger creates a ledger backed by the provided state manager.
func NewLedger(st protocolState, auth *AuthTable) *Ledger {
	return &Ledger{st: st, auth: auth}
}

// SetPauses configures the governance pause view.
func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

func prefixedKey(prefix []byte, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return buf
}

// --- Protocol operations (capability gated) ---

// AddRentals marks the order hash active and increments the rented-amount
// counter for each asset. Called exactly once per started rental, before any
// asset leaves the settlement engine's custody path.
func (l *Ledger) AddRentals(caller [20]byte, orderHash [32]byte, updates []RentalAssetUpdate) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if err := l.auth.Require(caller, OpLedgerAddRentals); err != nil {
		return err
	}
	if err := l.st.KVPut(prefixedKey(activeOrderPrefix, orderHash[:]), true); err != nil {
		return err
	}
	for _, update := range updates {
		if update.Amount == nil || update.Amount.Sign() <= 0 {
			return fmt.Errorf("rental: rented amount update must be positive")
		}
		current, err := l.RentedAmount(update.ID)
		if err != nil {
			return err
		}
		next := new(big.Int).Add(current, update.Amount)
		if err := l.st.KVPut(prefixedKey(rentedAmountPrefix, update.ID[:]), next); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRentals clears the active-order flag and decrements the rented-amount
// counters. A counter dropping below zero is a fatal invariant violation.
func (l *Ledger) RemoveRentals(caller [20]byte, orderHash [32]byte, updates []RentalAssetUpdate) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if err := l.auth.Require(caller, OpLedgerRemoveRentals); err != nil {
		return err
	}
	active, err := l.IsOrderActive(orderHash)
	if err != nil {
		return err
	}
	if !active {
		return ErrOrderDoesNotExist
	}
	for _, update := range updates {
		current, err := l.RentedAmount(update.ID)
		if err != nil {
			return err
		}
		next := new(big.Int).Sub(current, bigOrZero(update.Amount))
		if next.Sign() < 0 {
			return fmt.Errorf("%w: %s", ErrRentedCounterUnderflow, next)
		}
		key := prefixedKey(rentedAmountPrefix, update.ID[:])
		if next.Sign() == 0 {
			if err := l.st.KVDelete(key); err != nil {
				return err
			}
			continue
		}
		if err := l.st.KVPut(key, next); err != nil {
			return err
		}
	}
	return l.st.KVDelete(prefixedKey(activeOrderPrefix, orderHash[:]))
}

// RegisterWallet records a protocol-deployed custodial wallet and returns the
// nonce assigned to it. The nonce progression doubles as the wallet count used
// to derive deterministic deployment salts.
func (l *Ledger) RegisterWallet(caller [20]byte, wallet [20]byte) (uint64, error) {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return 0, err
	}
	if err := l.auth.Require(caller, OpLedgerRegisterWallet); err != nil {
		return 0, err
	}
	var count uint64
	if _, err := l.st.KVGet(walletCountKey, &count); err != nil {
		return 0, err
	}
	count++
	if err := l.st.KVPut(walletCountKey, count); err != nil {
		return 0, err
	}
	if err := l.st.KVPut(prefixedKey(walletNoncePrefix, wallet[:]), count); err != nil {
		return 0, err
	}
	return count, nil
}

// --- Reads ---

// IsOrderActive reports whether the order hash has an active ledger entry.
func (l *Ledger) IsOrderActive(orderHash [32]byte) (bool, error) {
	return l.st.KVHas(prefixedKey(activeOrderPrefix, orderHash[:]))
}

// RentedAmount returns the rented-amount counter for the derived key. Missing
// counters read as zero.
func (l *Ledger) RentedAmount(id RentalID) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := l.st.KVGet(prefixedKey(rentedAmountPrefix, id[:]), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// WalletNonce returns the deployment nonce of a protocol-deployed wallet. The
// boolean reports whether the wallet is known to the protocol.
func (l *Ledger) WalletNonce(wallet [20]byte) (uint64, bool, error) {
	var nonce uint64
	ok, err := l.st.KVGet(prefixedKey(walletNoncePrefix, wallet[:]), &nonce)
	if err != nil {
		return 0, false, err
	}
	return nonce, ok, nil
}

// Params returns the configured global limits, falling back to defaults for
// unset fields.
func (l *Ledger) Params() (Params, error) {
	params := Params{}
	if _, err := l.st.KVGet(paramsKey, &params); err != nil {
		return Params{}, err
	}
	if params.MaxRentDuration == 0 {
		params.MaxRentDuration = DefaultMaxRentDuration
	}
	if params.MaxOfferItems == 0 {
		params.MaxOfferItems = DefaultMaxOfferItems
	}
	if params.MaxConsiderationItems == 0 {
		params.MaxConsiderationItems = DefaultMaxConsiderationItems
	}
	return params, nil
}

// AssetFlags returns the whitelist entry for an asset token. Unknown assets
// read as all-false.
func (l *Ledger) AssetFlags(token [20]byte) (AssetFlags, error) {
	var bits uint8
	if _, err := l.st.KVGet(prefixedKey(assetFlagPrefix, token[:]), &bits); err != nil {
		return AssetFlags{}, err
	}
	return assetFlagsFromBits(bits), nil
}

// PaymentAllowed reports whether the payment token is whitelisted.
func (l *Ledger) PaymentAllowed(token [20]byte) (bool, error) {
	var allowed bool
	if _, err := l.st.KVGet(prefixedKey(paymentFlagPrefix, token[:]), &allowed); err != nil {
		return false, err
	}
	return allowed, nil
}

// ExtensionFlags returns the whitelist entry for a wallet extension.
func (l *Ledger) ExtensionFlags(extension [20]byte) (ExtensionFlags, error) {
	var bits uint8
	if _, err := l.st.KVGet(prefixedKey(extensionFlagPrefix, extension[:]), &bits); err != nil {
		return ExtensionFlags{}, err
	}
	return extensionFlagsFromBits(bits), nil
}

// DelegateAllowed reports whether the delegate-call target is whitelisted.
func (l *Ledger) DelegateAllowed(delegate [20]byte) (bool, error) {
	var allowed bool
	if _, err := l.st.KVGet(prefixedKey(delegateFlagPrefix, delegate[:]), &allowed); err != nil {
		return false, err
	}
	return allowed, nil
}

// HookFlags returns the lifecycle events the hook middleware is approved for.
func (l *Ledger) HookFlags(hook [20]byte) (HookFlags, error) {
	var bits uint8
	if _, err := l.st.KVGet(prefixedKey(hookFlagPrefix, hook[:]), &bits); err != nil {
		return HookFlags{}, err
	}
	return hookFlagsFromBits(bits), nil
}

// HookBinding resolves the hook middleware bound to a destination contract.
// The boolean reports whether a binding exists.
func (l *Ledger) HookBinding(contract [20]byte) ([20]byte, bool, error) {
	var raw []byte
	ok, err := l.st.KVGet(prefixedKey(hookBindingPrefix, contract[:]), &raw)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	if len(raw) != 20 {
		return [20]byte{}, false, fmt.Errorf("rental: corrupt hook binding for %x", contract)
	}
	var hook [20]byte
	copy(hook[:], raw)
	return hook, true, nil
}

// HasSignerRole reports whether the address holds the payload co-signing role.
func (l *Ledger) HasSignerRole(addr [20]byte) bool {
	return l.st.HasRole(RoleRentalSigner, addr[:])
}

// --- Admin surface (role gated) ---

func (l *Ledger) requireAdmin(caller [20]byte) error {
	if !l.st.HasRole(RoleRentalAdmin, caller[:]) {
		return ErrUnauthorized
	}
	return nil
}

// SetAssetFlags toggles the whitelist entry for an asset token.
func (l *Ledger) SetAssetFlags(caller [20]byte, token [20]byte, flags AssetFlags) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	return l.st.KVPut(prefixedKey(assetFlagPrefix, token[:]), flags.bits())
}

// SetAssetFlagsBatch toggles whitelist entries for multiple asset tokens.
func (l *Ledger) SetAssetFlagsBatch(caller [20]byte, tokens [][20]byte, flags []AssetFlags) error {
	if len(tokens) != len(flags) {
		return fmt.Errorf("%w: %d tokens, %d flags", ErrArrayLengthMismatch, len(tokens), len(flags))
	}
	for i, token := range tokens {
		if err := l.SetAssetFlags(caller, token, flags[i]); err != nil {
			return err
		}
	}
	return nil
}

// SetPaymentAllowed toggles the whitelist entry for a payment token.
func (l *Ledger) SetPaymentAllowed(caller [20]byte, token [20]byte, allowed bool) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	return l.st.KVPut(prefixedKey(paymentFlagPrefix, token[:]), allowed)
}

// SetPaymentAllowedBatch toggles whitelist entries for multiple payment tokens.
func (l *Ledger) SetPaymentAllowedBatch(caller [20]byte, tokens [][20]byte, allowed []bool) error {
	if len(tokens) != len(allowed) {
		return fmt.Errorf("%w: %d tokens, %d flags", ErrArrayLengthMismatch, len(tokens), len(allowed))
	}
	for i, token := range tokens {
		if err := l.SetPaymentAllowed(caller, token, allowed[i]); err != nil {
			return err
		}
	}
	return nil
}

// SetExtensionFlags toggles the whitelist entry for a wallet extension.
func (l *Ledger) SetExtensionFlags(caller [20]byte, extension [20]byte, flags ExtensionFlags) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	return l.st.KVPut(prefixedKey(extensionFlagPrefix, extension[:]), flags.bits())
}

// SetExtensionFlagsBatch toggles whitelist entries for multiple extensions.
func (l *Ledger) SetExtensionFlagsBatch(caller [20]byte, extensions [][20]byte, flags []ExtensionFlags) error {
	if len(extensions) != len(flags) {
		return fmt.Errorf("%w: %d extensions, %d flags", ErrArrayLengthMismatch, len(extensions), len(flags))
	}
	for i, extension := range extensions {
		if err := l.SetExtensionFlags(caller, extension, flags[i]); err != nil {
			return err
		}
	}
	return nil
}

// SetDelegateAllowed toggles the whitelist entry for a delegate-call target.
func (l *Ledger) SetDelegateAllowed(caller [20]byte, delegate [20]byte, allowed bool) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	return l.st.KVPut(prefixedKey(delegateFlagPrefix, delegate[:]), allowed)
}

// SetDelegateAllowedBatch toggles whitelist entries for multiple delegate
// targets.
func (l *Ledger) SetDelegateAllowedBatch(caller [20]byte, delegates [][20]byte, allowed []bool) error {
	if len(delegates) != len(allowed) {
		return fmt.Errorf("%w: %d delegates, %d flags", ErrArrayLengthMismatch, len(delegates), len(allowed))
	}
	for i, delegate := range delegates {
		if err := l.SetDelegateAllowed(caller, delegate, allowed[i]); err != nil {
			return err
		}
	}
	return nil
}

// SetHookFlags records the lifecycle events a hook middleware is approved for.
func (l *Ledger) SetHookFlags(caller [20]byte, hook [20]byte, flags HookFlags) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	return l.st.KVPut(prefixedKey(hookFlagPrefix, hook[:]), flags.bits())
}

// SetHookBinding routes wallet transactions targeting a contract through the
// given hook middleware. A zero hook address clears the binding.
func (l *Ledger) SetHookBinding(caller [20]byte, contract [20]byte, hook [20]byte) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	key := prefixedKey(hookBindingPrefix, contract[:])
	if hook == ([20]byte{}) {
		return l.st.KVDelete(key)
	}
	return l.st.KVPut(key, hook[:])
}

// SetMaxRentDuration updates the global rent duration cap.
func (l *Ledger) SetMaxRentDuration(caller [20]byte, duration uint64) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	params, err := l.Params()
	if err != nil {
		return err
	}
	params.MaxRentDuration = duration
	return l.st.KVPut(paramsKey, params)
}

// SetMaxOfferItems updates the global offer item count cap.
func (l *Ledger) SetMaxOfferItems(caller [20]byte, count uint64) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	params, err := l.Params()
	if err != nil {
		return err
	}
	params.MaxOfferItems = count
	return l.st.KVPut(paramsKey, params)
}

// SetMaxConsiderationItems updates the global consideration item count cap.
func (l *Ledger) SetMaxConsiderationItems(caller [20]byte, count uint64) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	params, err := l.Params()
	if err != nil {
		return err
	}
	params.MaxConsiderationItems = count
	return l.st.KVPut(paramsKey, params)
}
