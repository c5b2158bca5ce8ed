package rental

import (
	"math/big"
	"testing"
)

func TestLedgerAddRemoveRentals(t *testing.T) {
	env := newTestEnv(t)
	orderHash := hash32(0x10)
	id := NewRentalID(addr(0x03), addr(0x71), big.NewInt(7))
	updates := []RentalAssetUpdate{{ID: id, Amount: big.NewInt(3)}}

	err := env.ledger.AddRentals(addr(0x99), orderHash, updates)
	requireErrorIs(t, err, ErrUnauthorized)

	if err := env.ledger.AddRentals(env.moduleAddr, orderHash, updates); err != nil {
		t.Fatalf("add rentals: %v", err)
	}
	active, err := env.ledger.IsOrderActive(orderHash)
	if err != nil {
		t.Fatalf("is order active: %v", err)
	}
	if !active {
		t.Fatalf("order should be active")
	}
	rented, err := env.ledger.RentedAmount(id)
	if err != nil {
		t.Fatalf("rented amount: %v", err)
	}
	if rented.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("rented = %s, want 3", rented)
	}

	// A second order over the same asset accumulates.
	if err := env.ledger.AddRentals(env.moduleAddr, hash32(0x11), updates); err != nil {
		t.Fatalf("add rentals: %v", err)
	}
	rented, _ = env.ledger.RentedAmount(id)
	if rented.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("rented = %s, want 6", rented)
	}

	if err := env.ledger.RemoveRentals(env.moduleAddr, orderHash, updates); err != nil {
		t.Fatalf("remove rentals: %v", err)
	}
	active, _ = env.ledger.IsOrderActive(orderHash)
	if active {
		t.Fatalf("order should be inactive after removal")
	}
	rented, _ = env.ledger.RentedAmount(id)
	if rented.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("rented = %s, want 3 after partial removal", rented)
	}
}

func TestLedgerRemoveUnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	err := env.ledger.RemoveRentals(env.moduleAddr, hash32(0x10), nil)
	requireErrorIs(t, err, ErrOrderDoesNotExist)
}

func TestLedgerCounterUnderflow(t *testing.T) {
	env := newTestEnv(t)
	orderHash := hash32(0x10)
	id := NewRentalID(addr(0x03), addr(0x71), big.NewInt(7))

	if err := env.ledger.AddRentals(env.moduleAddr, orderHash, []RentalAssetUpdate{{ID: id, Amount: big.NewInt(1)}}); err != nil {
		t.Fatalf("add rentals: %v", err)
	}
	err := env.ledger.RemoveRentals(env.moduleAddr, orderHash, []RentalAssetUpdate{{ID: id, Amount: big.NewInt(2)}})
	requireErrorIs(t, err, ErrRentedCounterUnderflow)
}

func TestLedgerRejectsNonPositiveUpdates(t *testing.T) {
	env := newTestEnv(t)
	id := NewRentalID(addr(0x03), addr(0x71), big.NewInt(7))

	if err := env.ledger.AddRentals(env.moduleAddr, hash32(0x10), []RentalAssetUpdate{{ID: id, Amount: big.NewInt(0)}}); err == nil {
		t.Fatalf("zero amount update must be rejected")
	}
	if err := env.ledger.AddRentals(env.moduleAddr, hash32(0x11), []RentalAssetUpdate{{ID: id, Amount: nil}}); err == nil {
		t.Fatalf("nil amount update must be rejected")
	}
}

func TestLedgerWalletRegistration(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.ledger.RegisterWallet(addr(0x99), addr(0x03))
	requireErrorIs(t, err, ErrUnauthorized)

	_, known, err := env.ledger.WalletNonce(addr(0x03))
	if err != nil {
		t.Fatalf("wallet nonce: %v", err)
	}
	if known {
		t.Fatalf("wallet should be unknown before registration")
	}

	first, err := env.ledger.RegisterWallet(env.moduleAddr, addr(0x03))
	if err != nil {
		t.Fatalf("register wallet: %v", err)
	}
	second, err := env.ledger.RegisterWallet(env.moduleAddr, addr(0x04))
	if err != nil {
		t.Fatalf("register wallet: %v", err)
	}
	if second != first+1 {
		t.Fatalf("nonces must progress: %d then %d", first, second)
	}

	nonce, known, err := env.ledger.WalletNonce(addr(0x03))
	if err != nil {
		t.Fatalf("wallet nonce: %v", err)
	}
	if !known || nonce != first {
		t.Fatalf("wallet nonce = %d/%v, want %d/true", nonce, known, first)
	}

	// Deterministic deployment salts derive from deployer and nonce.
	if DeploymentSalt(addr(0x01), first) == DeploymentSalt(addr(0x01), second) {
		t.Fatalf("salts must differ per nonce")
	}
	if DeploymentSalt(addr(0x01), first) == DeploymentSalt(addr(0x02), first) {
		t.Fatalf("salts must differ per deployer")
	}
}

func TestLedgerWhitelistsRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	stranger := addr(0x99)

	if err := env.ledger.SetAssetFlags(stranger, addr(0x71), AssetFlags{Rentable: true}); err == nil {
		t.Fatalf("asset whitelist must require admin")
	}
	if err := env.ledger.SetPaymentAllowed(stranger, addr(0x20), true); err == nil {
		t.Fatalf("payment whitelist must require admin")
	}
	if err := env.ledger.SetHookFlags(stranger, addr(0xC0), HookFlags{OnStart: true}); err == nil {
		t.Fatalf("hook flags must require admin")
	}
	if err := env.ledger.SetMaxRentDuration(stranger, 1); err == nil {
		t.Fatalf("params must require admin")
	}
}

func TestLedgerFlagRoundTrips(t *testing.T) {
	env := newTestEnv(t)

	if err := env.ledger.SetAssetFlags(env.admin, addr(0x71), AssetFlags{PermitRestricted: true, Rentable: true}); err != nil {
		t.Fatalf("set asset flags: %v", err)
	}
	asset, err := env.ledger.AssetFlags(addr(0x71))
	if err != nil {
		t.Fatalf("asset flags: %v", err)
	}
	if !asset.PermitRestricted || !asset.Rentable {
		t.Fatalf("asset flags lost on round trip: %+v", asset)
	}

	if err := env.ledger.SetExtensionFlags(env.admin, addr(0xE1), ExtensionFlags{EnableAllowed: true}); err != nil {
		t.Fatalf("set extension flags: %v", err)
	}
	extension, err := env.ledger.ExtensionFlags(addr(0xE1))
	if err != nil {
		t.Fatalf("extension flags: %v", err)
	}
	if !extension.EnableAllowed || extension.DisableAllowed {
		t.Fatalf("extension flags lost on round trip: %+v", extension)
	}

	if err := env.ledger.SetHookFlags(env.admin, addr(0xC0), HookFlags{OnTransaction: true, OnStop: true}); err != nil {
		t.Fatalf("set hook flags: %v", err)
	}
	hook, err := env.ledger.HookFlags(addr(0xC0))
	if err != nil {
		t.Fatalf("hook flags: %v", err)
	}
	if !hook.OnTransaction || hook.OnStart || !hook.OnStop {
		t.Fatalf("hook flags lost on round trip: %+v", hook)
	}

	// Unknown entries read as all-false.
	unknown, err := env.ledger.AssetFlags(addr(0x72))
	if err != nil {
		t.Fatalf("asset flags: %v", err)
	}
	if unknown.Rentable || unknown.PermitRestricted {
		t.Fatalf("unknown asset must read as all-false")
	}
}

func TestLedgerBatchSetters(t *testing.T) {
	env := newTestEnv(t)

	tokens := [][20]byte{addr(0x71), addr(0x72)}
	err := env.ledger.SetAssetFlagsBatch(env.admin, tokens, []AssetFlags{{Rentable: true}})
	requireErrorIs(t, err, ErrArrayLengthMismatch)

	if err := env.ledger.SetAssetFlagsBatch(env.admin, tokens, []AssetFlags{{Rentable: true}, {Rentable: true}}); err != nil {
		t.Fatalf("batch set asset flags: %v", err)
	}
	for _, token := range tokens {
		flags, err := env.ledger.AssetFlags(token)
		if err != nil {
			t.Fatalf("asset flags: %v", err)
		}
		if !flags.Rentable {
			t.Fatalf("asset %x not whitelisted after batch", token)
		}
	}

	err = env.ledger.SetPaymentAllowedBatch(env.admin, tokens, []bool{true})
	requireErrorIs(t, err, ErrArrayLengthMismatch)
	err = env.ledger.SetDelegateAllowedBatch(env.admin, tokens, []bool{true})
	requireErrorIs(t, err, ErrArrayLengthMismatch)
	err = env.ledger.SetExtensionFlagsBatch(env.admin, tokens, []ExtensionFlags{{}})
	requireErrorIs(t, err, ErrArrayLengthMismatch)
}

func TestLedgerHookBinding(t *testing.T) {
	env := newTestEnv(t)
	game := addr(0x90)
	hook := addr(0xC0)

	_, bound, err := env.ledger.HookBinding(game)
	if err != nil {
		t.Fatalf("hook binding: %v", err)
	}
	if bound {
		t.Fatalf("binding should not exist yet")
	}

	if err := env.ledger.SetHookBinding(env.admin, game, hook); err != nil {
		t.Fatalf("set hook binding: %v", err)
	}
	got, bound, err := env.ledger.HookBinding(game)
	if err != nil {
		t.Fatalf("hook binding: %v", err)
	}
	if !bound || got != hook {
		t.Fatalf("binding = %x/%v, want %x/true", got, bound, hook)
	}

	// Zero hook clears the binding.
	if err := env.ledger.SetHookBinding(env.admin, game, [20]byte{}); err != nil {
		t.Fatalf("clear hook binding: %v", err)
	}
	_, bound, err = env.ledger.HookBinding(game)
	if err != nil {
		t.Fatalf("hook binding: %v", err)
	}
	if bound {
		t.Fatalf("binding should be cleared")
	}
}

func TestLedgerParamsPersistAcrossSetters(t *testing.T) {
	env := newTestEnv(t)

	if err := env.ledger.SetMaxRentDuration(env.admin, 1_000); err != nil {
		t.Fatalf("set max duration: %v", err)
	}
	if err := env.ledger.SetMaxOfferItems(env.admin, 5); err != nil {
		t.Fatalf("set max offer items: %v", err)
	}
	params, err := env.ledger.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.MaxRentDuration != 1_000 || params.MaxOfferItems != 5 {
		t.Fatalf("params lost on partial update: %+v", params)
	}
	if params.MaxConsiderationItems != DefaultMaxConsiderationItems {
		t.Fatalf("untouched param must keep its default")
	}
}
