package custody

import (
	"errors"
	"math/big"
	"testing"

	"rentchain/core/state"
	"rentchain/native/rental"
	"rentchain/storage"
)

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func newState(t *testing.T) *state.Manager {
	t.Helper()
	return state.NewManager(storage.NewMemDB())
}

func TestBankCreditAndTransfer(t *testing.T) {
	st := newState(t)
	escrow := addr(0xEE)
	bank := NewBank(st, escrow)
	token := addr(0x20)
	lender := addr(0x01)

	if err := bank.Credit(token, escrow, big.NewInt(10_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := bank.Transfer(token, lender, big.NewInt(6_700)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	balance, err := bank.BalanceOf(token, lender)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(6_700)) != 0 {
		t.Fatalf("lender balance = %s, want 6700", balance)
	}
	remaining, _ := bank.BalanceOf(token, escrow)
	if remaining.Cmp(big.NewInt(3_300)) != 0 {
		t.Fatalf("escrow balance = %s, want 3300", remaining)
	}
}

func TestBankRejectsOverdraw(t *testing.T) {
	st := newState(t)
	bank := NewBank(st, addr(0xEE))
	token := addr(0x20)
	if err := bank.Credit(token, addr(0xEE), big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := bank.Transfer(token, addr(0x01), big.NewInt(101)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := bank.Transfer(token, addr(0x01), big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestVaultOwnership(t *testing.T) {
	st := newState(t)
	vault := NewVault(st)
	wallet := addr(0x03)
	owner := addr(0x02)

	ok, err := vault.IsOwner(wallet, owner)
	if err != nil || ok {
		t.Fatalf("unexpected owner before registration: %v %v", ok, err)
	}
	if err := vault.RegisterOwner(wallet, owner); err != nil {
		t.Fatalf("register: %v", err)
	}
	ok, err = vault.IsOwner(wallet, owner)
	if err != nil || !ok {
		t.Fatalf("owner not recognized: %v %v", ok, err)
	}
	ok, _ = vault.IsOwner(wallet, addr(0x09))
	if ok {
		t.Fatal("stranger recognized as owner")
	}
}

func TestVaultReclaimMovesAssets(t *testing.T) {
	st := newState(t)
	vault := NewVault(st)
	wallet := addr(0x03)
	lender := addr(0x01)
	token := addr(0x71)
	id := big.NewInt(7)

	if err := vault.Deposit(wallet, token, id, big.NewInt(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	items := []rental.RentalItem{
		{Kind: rental.ItemKindERC721, Token: token, Identifier: id, Amount: big.NewInt(1)},
		{Kind: rental.ItemKindERC20, Token: addr(0x20), Amount: big.NewInt(500)},
	}
	if err := vault.ReclaimRentals(wallet, lender, items); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	held, _ := vault.Balance1155(token, lender, id)
	if held.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("lender holding = %s, want 1", held)
	}
	left, _ := vault.Balance1155(token, wallet, id)
	if left.Sign() != 0 {
		t.Fatalf("wallet still holds %s", left)
	}
}

func TestVaultReclaimRejectsMissingAssets(t *testing.T) {
	st := newState(t)
	vault := NewVault(st)
	items := []rental.RentalItem{
		{Kind: rental.ItemKindERC1155, Token: addr(0x72), Identifier: big.NewInt(9), Amount: big.NewInt(5)},
	}
	if err := vault.ReclaimRentals(addr(0x03), addr(0x01), items); !errors.Is(err, ErrInsufficientAssets) {
		t.Fatalf("expected ErrInsufficientAssets, got %v", err)
	}
}

func TestVaultPartial1155Reclaim(t *testing.T) {
	st := newState(t)
	vault := NewVault(st)
	wallet := addr(0x03)
	token := addr(0x72)
	id := big.NewInt(9)

	if err := vault.Deposit(wallet, token, id, big.NewInt(15)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	items := []rental.RentalItem{
		{Kind: rental.ItemKindERC1155, Token: token, Identifier: id, Amount: big.NewInt(10)},
	}
	if err := vault.ReclaimRentals(wallet, addr(0x01), items); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	left, _ := vault.Balance1155(token, wallet, id)
	if left.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("wallet holding = %s, want 5", left)
	}
}
