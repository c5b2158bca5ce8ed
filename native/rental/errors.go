package rental

import "errors"

// Composition errors. Violations of the per-kind item grammar abort the
// conversion with the offending count where one applies.
var (
	ErrTooManyOfferItems         = errors.New("rental: offer item count exceeds maximum")
	ErrTooManyConsiderationItems = errors.New("rental: consideration item count exceeds maximum")
	ErrOfferEmpty                = errors.New("rental: order requires at least one offer item")
	ErrOfferNotEmpty             = errors.New("rental: payee order offer must be empty")
	ErrConsiderationEmpty        = errors.New("rental: order requires at least one consideration item")
	ErrConsiderationNotEmpty     = errors.New("rental: pay order consideration must be empty")
	ErrMissingRentalAsset        = errors.New("rental: order requires at least one rental asset")
	ErrMissingPayment            = errors.New("rental: order requires at least one payment item")
	ErrUnexpectedItemKind        = errors.New("rental: item kind not allowed for order kind")
)

// Authorization errors.
var (
	ErrUnauthorized            = errors.New("rental: caller not authorized for operation")
	ErrSignerUnauthorized      = errors.New("rental: payload signer does not hold the signer role")
	ErrFulfillerMismatch       = errors.New("rental: settling party does not match intended fulfiller")
	ErrWalletNotDeployed       = errors.New("rental: recipient is not a protocol-deployed wallet")
	ErrNotWalletOwner          = errors.New("rental: settling party is not an owner of the custody wallet")
	ErrAssetNotWhitelisted     = errors.New("rental: asset is not whitelisted for renting")
	ErrPaymentNotWhitelisted   = errors.New("rental: payment token is not whitelisted")
	ErrDelegateNotWhitelisted  = errors.New("rental: delegate call target is not whitelisted")
	ErrExtensionNotWhitelisted = errors.New("rental: extension is not whitelisted for this action")
	ErrSelectorBlocked         = errors.New("rental: function selector is unconditionally blocked")
	ErrAssetRented             = errors.New("rental: asset is actively rented")
)

// Consistency errors.
var (
	ErrTradeHashMismatch         = errors.New("rental: payload trade hash does not match settled trade")
	ErrMetadataHashMismatch      = errors.New("rental: metadata hash does not match trade commitment")
	ErrSignatureExpired          = errors.New("rental: payload signature has expired")
	ErrSelfPaymentRecipient      = errors.New("rental: consideration recipient must not equal offerer")
	ErrInvalidExecution          = errors.New("rental: settlement execution routed to unexpected recipient")
	ErrUnsupportedSettlementMode = errors.New("rental: settlement mode not supported")
	ErrOrderDoesNotExist         = errors.New("rental: order does not exist")
	ErrCannotStopOrder           = errors.New("rental: order is not eligible to be stopped")
	// ErrOrderKindNotSupported marks an order kind reaching a path that
	// upstream checks should make unreachable. Its presence signals a
	// defect, not caller error.
	ErrOrderKindNotSupported = errors.New("rental: order kind not supported in this path")
)

// Arithmetic and balance errors.
var (
	ErrZeroPayment         = errors.New("rental: payment amount must be positive")
	ErrInvalidFeeNumerator = errors.New("rental: fee numerator exceeds 10000")
	ErrRentDurationInvalid = errors.New("rental: rent duration must be positive")
	ErrRentDurationTooLong = errors.New("rental: rent duration exceeds maximum")
	ErrArrayLengthMismatch = errors.New("rental: batch array lengths must match")
	// ErrRentedCounterUnderflow is a fatal invariant violation: a rented
	// amount counter would drop below zero.
	ErrRentedCounterUnderflow = errors.New("rental: rented amount counter underflow")
	ErrEscrowBalanceUnderflow = errors.New("rental: escrow synced balance underflow")
)

// Hook errors. Hook execution failures are classified separately via
// HookError so callers can assert on the failure class.
var (
	ErrHookDisabled      = errors.New("rental: hook is not approved for this event")
	ErrHookItemNotRental = errors.New("rental: hook must be bound to a rental asset item")
	ErrHookNotRegistered = errors.New("rental: hook target has no registered handler")
	ErrGuardDeactivated  = errors.New("rental: guard deactivated, only emergency upgrade permitted")
)
