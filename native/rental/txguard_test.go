package rental

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func calldata(sel [4]byte, words ...*big.Int) []byte {
	data := append([]byte(nil), sel[:]...)
	for _, word := range words {
		data = append(data, ethcommon.LeftPadBytes(word.Bytes(), 32)...)
	}
	return data
}

func addrWord(a [20]byte) *big.Int {
	return new(big.Int).SetBytes(a[:])
}

type mock1155Balances struct {
	balances map[RentalID]*big.Int
}

func (m *mock1155Balances) Balance1155(token [20]byte, holder [20]byte, id *big.Int) (*big.Int, error) {
	balance, ok := m.balances[NewRentalID(holder, token, id)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

// rentOut marks an asset actively rented by incrementing its counter directly
// through the ledger.
func rentOut(t *testing.T, env *testEnv, wallet, token [20]byte, id *big.Int, amount int64) {
	t.Helper()
	update := RentalAssetUpdate{ID: NewRentalID(wallet, token, id), Amount: big.NewInt(amount)}
	if err := env.ledger.AddRentals(env.moduleAddr, hash32(0xF0), []RentalAssetUpdate{update}); err != nil {
		t.Fatalf("add rentals: %v", err)
	}
}

func TestGuardBlocksRentedERC721Moves(t *testing.T) {
	env := newTestEnv(t)
	wallet := addr(0x03)
	token := addr(0x71)
	rentOut(t, env, wallet, token, big.NewInt(7), 1)

	cases := [][]byte{
		calldata(selERC721TransferFrom, addrWord(wallet), addrWord(addr(0x09)), big.NewInt(7)),
		calldata(selERC721SafeTransfer, addrWord(wallet), addrWord(addr(0x09)), big.NewInt(7)),
		calldata(selERC721SafeTransferData, addrWord(wallet), addrWord(addr(0x09)), big.NewInt(7), big.NewInt(0x80)),
		calldata(selApprove, addrWord(addr(0x09)), big.NewInt(7)),
		calldata(selERC721Burn, big.NewInt(7)),
	}
	for _, data := range cases {
		err := env.guard.CheckTransaction(wallet, token, big.NewInt(0), data, CallKindCall)
		requireErrorIs(t, err, ErrAssetRented)
	}

	// A different token id on the same contract is unencumbered.
	free := calldata(selERC721TransferFrom, addrWord(wallet), addrWord(addr(0x09)), big.NewInt(8))
	if err := env.guard.CheckTransaction(wallet, token, big.NewInt(0), free, CallKindCall); err != nil {
		t.Fatalf("unrented asset should move freely: %v", err)
	}
}

func TestGuardBlocksBatchAndConfigSelectors(t *testing.T) {
	env := newTestEnv(t)
	wallet := addr(0x03)

	for _, sel := range [][4]byte{
		selERC1155SafeBatchTransfer,
		selERC1155BurnBatch,
		selSetApprovalForAll,
		selSetGuard,
		selSetFallbackHandler,
	} {
		err := env.guard.CheckTransaction(wallet, addr(0x71), big.NewInt(0), calldata(sel), CallKindCall)
		requireErrorIs(t, err, ErrSelectorBlocked)
	}
}

func TestGuardERC1155PartialBalance(t *testing.T) {
	env := newTestEnv(t)
	wallet := addr(0x03)
	token := addr(0x55)
	id := big.NewInt(42)
	rentOut(t, env, wallet, token, id, 10)

	balances := &mock1155Balances{balances: map[RentalID]*big.Int{
		NewRentalID(wallet, token, id): big.NewInt(15),
	}}
	env.guard.balances = balances

	// Moving 5 of 15 leaves exactly the 10 rented: allowed.
	exact := calldata(selERC1155SafeTransfer, addrWord(wallet), addrWord(addr(0x09)), id, big.NewInt(5), big.NewInt(0xA0))
	if err := env.guard.CheckTransaction(wallet, token, big.NewInt(0), exact, CallKindCall); err != nil {
		t.Fatalf("transfer of unrented portion rejected: %v", err)
	}

	// Moving 6 would dip into the rented portion: rejected.
	short := calldata(selERC1155SafeTransfer, addrWord(wallet), addrWord(addr(0x09)), id, big.NewInt(6), big.NewInt(0xA0))
	err := env.guard.CheckTransaction(wallet, token, big.NewInt(0), short, CallKindCall)
	requireErrorIs(t, err, ErrAssetRented)

	// Burning follows the same arithmetic.
	burn := calldata(selERC1155Burn, addrWord(wallet), id, big.NewInt(6))
	err = env.guard.CheckTransaction(wallet, token, big.NewInt(0), burn, CallKindCall)
	requireErrorIs(t, err, ErrAssetRented)
}

func TestGuardERC1155WithoutBalanceViewRejectsRented(t *testing.T) {
	env := newTestEnv(t)
	wallet := addr(0x03)
	token := addr(0x55)
	id := big.NewInt(42)
	rentOut(t, env, wallet, token, id, 1)

	data := calldata(selERC1155SafeTransfer, addrWord(wallet), addrWord(addr(0x09)), id, big.NewInt(1), big.NewInt(0xA0))
	err := env.guard.CheckTransaction(wallet, token, big.NewInt(0), data, CallKindCall)
	requireErrorIs(t, err, ErrAssetRented)
}

func TestGuardDelegateCallWhitelist(t *testing.T) {
	env := newTestEnv(t)
	wallet := addr(0x03)
	target := addr(0xD0)

	err := env.guard.CheckTransaction(wallet, target, big.NewInt(0), nil, CallKindDelegate)
	requireErrorIs(t, err, ErrDelegateNotWhitelisted)

	if err := env.ledger.SetDelegateAllowed(env.admin, target, true); err != nil {
		t.Fatalf("whitelist delegate: %v", err)
	}
	if err := env.guard.CheckTransaction(wallet, target, big.NewInt(0), nil, CallKindDelegate); err != nil {
		t.Fatalf("whitelisted delegate rejected: %v", err)
	}
}

func TestGuardModuleToggles(t *testing.T) {
	env := newTestEnv(t)
	wallet := addr(0x03)
	extension := addr(0xE1)

	enable := calldata(selEnableModule, addrWord(extension))
	err := env.guard.CheckTransaction(wallet, wallet, big.NewInt(0), enable, CallKindCall)
	requireErrorIs(t, err, ErrExtensionNotWhitelisted)

	if err := env.ledger.SetExtensionFlags(env.admin, extension, ExtensionFlags{EnableAllowed: true}); err != nil {
		t.Fatalf("set extension flags: %v", err)
	}
	if err := env.guard.CheckTransaction(wallet, wallet, big.NewInt(0), enable, CallKindCall); err != nil {
		t.Fatalf("enable of whitelisted extension rejected: %v", err)
	}

	// Enable permission does not imply disable permission.
	disable := calldata(selDisableModule, addrWord(addr(0x01)), addrWord(extension))
	err = env.guard.CheckTransaction(wallet, wallet, big.NewInt(0), disable, CallKindCall)
	requireErrorIs(t, err, ErrExtensionNotWhitelisted)

	if err := env.ledger.SetExtensionFlags(env.admin, extension, ExtensionFlags{EnableAllowed: true, DisableAllowed: true}); err != nil {
		t.Fatalf("set extension flags: %v", err)
	}
	if err := env.guard.CheckTransaction(wallet, wallet, big.NewInt(0), disable, CallKindCall); err != nil {
		t.Fatalf("disable of whitelisted extension rejected: %v", err)
	}
}

func TestGuardRoutesBoundContractsThroughHook(t *testing.T) {
	env := newTestEnv(t)
	wallet := addr(0x03)
	game := addr(0x90)
	hookTarget := addr(0xC0)

	handler := &recordingHook{}
	env.guard.hooks.Register(hookTarget, handler)
	if err := env.ledger.SetHookBinding(env.admin, game, hookTarget); err != nil {
		t.Fatalf("set hook binding: %v", err)
	}
	if err := env.ledger.SetHookFlags(env.admin, hookTarget, HookFlags{OnTransaction: true}); err != nil {
		t.Fatalf("set hook flags: %v", err)
	}

	data := calldata(selApprove, addrWord(addr(0x09)), big.NewInt(7))
	if err := env.guard.CheckTransaction(wallet, game, big.NewInt(0), data, CallKindCall); err != nil {
		t.Fatalf("hook verdict: %v", err)
	}
	if handler.txs != 1 {
		t.Fatalf("expected one hook invocation, got %d", handler.txs)
	}

	// The hook's rejection propagates as a classified error.
	handler.fail = &OpaqueHookError{Raw: []byte{0xDE, 0xAD}}
	err := env.guard.CheckTransaction(wallet, game, big.NewInt(0), data, CallKindCall)
	hookErr, ok := err.(*HookError)
	if !ok {
		t.Fatalf("expected HookError, got %v", err)
	}
	if hookErr.Class != HookFailureOpaque {
		t.Fatalf("expected opaque classification, got %s", hookErr.Class)
	}
}

func TestGuardHookBindingWithoutTransactionApprovalFallsThrough(t *testing.T) {
	env := newTestEnv(t)
	wallet := addr(0x03)
	token := addr(0x71)
	hookTarget := addr(0xC0)
	rentOut(t, env, wallet, token, big.NewInt(7), 1)

	if err := env.ledger.SetHookBinding(env.admin, token, hookTarget); err != nil {
		t.Fatalf("set hook binding: %v", err)
	}
	// Bound but only approved for start events: static checks still apply.
	if err := env.ledger.SetHookFlags(env.admin, hookTarget, HookFlags{OnStart: true}); err != nil {
		t.Fatalf("set hook flags: %v", err)
	}

	data := calldata(selERC721TransferFrom, addrWord(wallet), addrWord(addr(0x09)), big.NewInt(7))
	err := env.guard.CheckTransaction(wallet, token, big.NewInt(0), data, CallKindCall)
	requireErrorIs(t, err, ErrAssetRented)
}

func TestGuardDeactivation(t *testing.T) {
	env := newTestEnv(t)
	wallet := addr(0x03)

	err := env.guard.Deactivate(addr(0x99))
	requireErrorIs(t, err, ErrUnauthorized)

	if err := env.guard.Deactivate(env.admin); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	err = env.guard.CheckTransaction(wallet, addr(0x71), big.NewInt(0), nil, CallKindCall)
	requireErrorIs(t, err, ErrGuardDeactivated)

	// Only the delegate-call escape hatch to the upgrade target remains.
	if err := env.guard.CheckTransaction(wallet, addr(0xFE), big.NewInt(0), nil, CallKindDelegate); err != nil {
		t.Fatalf("emergency upgrade path rejected: %v", err)
	}
	err = env.guard.CheckTransaction(wallet, addr(0xFD), big.NewInt(0), nil, CallKindDelegate)
	requireErrorIs(t, err, ErrGuardDeactivated)
}

func TestGuardAllowsShortAndUnknownCalldata(t *testing.T) {
	env := newTestEnv(t)
	wallet := addr(0x03)

	if err := env.guard.CheckTransaction(wallet, addr(0x71), big.NewInt(1), nil, CallKindCall); err != nil {
		t.Fatalf("plain value transfer rejected: %v", err)
	}
	if err := env.guard.CheckTransaction(wallet, addr(0x71), big.NewInt(0), []byte{0x01, 0x02}, CallKindCall); err != nil {
		t.Fatalf("short calldata rejected: %v", err)
	}
	unknown := calldata(selector("name()"))
	if err := env.guard.CheckTransaction(wallet, addr(0x71), big.NewInt(0), unknown, CallKindCall); err != nil {
		t.Fatalf("unknown selector rejected: %v", err)
	}
}

func TestGuardRejectsTruncatedArguments(t *testing.T) {
	env := newTestEnv(t)
	wallet := addr(0x03)

	truncated := calldata(selERC721TransferFrom, addrWord(wallet))
	if err := env.guard.CheckTransaction(wallet, addr(0x71), big.NewInt(0), truncated, CallKindCall); err == nil {
		t.Fatalf("truncated transferFrom calldata must be rejected")
	}
}
