package rental

import (
	"math/big"
	"testing"
)

func sampleOrder() *RentalOrder {
	return &RentalOrder{
		TradeHash: hash32(0x01),
		Items: []RentalItem{
			{Kind: ItemKindERC721, SettleTo: SettleToLender, Token: addr(0x71), Amount: big.NewInt(1), Identifier: big.NewInt(7)},
			{Kind: ItemKindERC20, SettleTo: SettleToLender, Token: addr(0x20), Amount: big.NewInt(100), Identifier: big.NewInt(0)},
		},
		Hooks:     []Hook{{Target: addr(0xC0), ItemIndex: 0, Extra: []byte{0x01}}},
		Kind:      OrderKindBase,
		Lender:    addr(0x01),
		Renter:    addr(0x02),
		Wallet:    addr(0x03),
		StartTime: 1_000,
		EndTime:   2_000,
	}
}

func TestOrderHashDeterministic(t *testing.T) {
	first := sampleOrder()
	second := sampleOrder()
	if first.Hash() != second.Hash() {
		t.Fatalf("identical orders must hash identically")
	}
}

func TestOrderHashSensitiveToEveryField(t *testing.T) {
	base := sampleOrder().Hash()
	mutations := map[string]func(*RentalOrder){
		"tradeHash": func(o *RentalOrder) { o.TradeHash = hash32(0x02) },
		"itemAmount": func(o *RentalOrder) {
			o.Items[1].Amount = big.NewInt(101)
		},
		"itemSettleTo": func(o *RentalOrder) {
			o.Items[1].SettleTo = SettleToRenter
		},
		"hookExtra": func(o *RentalOrder) { o.Hooks[0].Extra = []byte{0x02} },
		"kind":      func(o *RentalOrder) { o.Kind = OrderKindPay },
		"lender":    func(o *RentalOrder) { o.Lender = addr(0x0A) },
		"renter":    func(o *RentalOrder) { o.Renter = addr(0x0B) },
		"wallet":    func(o *RentalOrder) { o.Wallet = addr(0x0C) },
		"startTime": func(o *RentalOrder) { o.StartTime = 1_001 },
		"endTime":   func(o *RentalOrder) { o.EndTime = 2_001 },
	}
	for name, mutate := range mutations {
		order := sampleOrder()
		mutate(order)
		if order.Hash() == base {
			t.Fatalf("mutation %q did not change the order hash", name)
		}
	}
}

func TestOrderCloneIsIndependent(t *testing.T) {
	order := sampleOrder()
	clone := order.Clone()
	clone.Items[0].Amount.SetInt64(999)
	clone.Hooks[0].Extra[0] = 0xFF
	if order.Items[0].Amount.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("clone shares item amounts with the original")
	}
	if order.Hooks[0].Extra[0] != 0x01 {
		t.Fatalf("clone shares hook extra data with the original")
	}
}

func TestNewRentalIDScopesByWallet(t *testing.T) {
	token := addr(0x71)
	id := big.NewInt(7)
	if NewRentalID(addr(0x03), token, id) == NewRentalID(addr(0x04), token, id) {
		t.Fatalf("rental ids must differ per wallet")
	}
	if NewRentalID(addr(0x03), token, id) != NewRentalID(addr(0x03), token, big.NewInt(7)) {
		t.Fatalf("rental ids must be deterministic")
	}
	// Nil identifier reads as zero.
	if NewRentalID(addr(0x03), token, nil) != NewRentalID(addr(0x03), token, big.NewInt(0)) {
		t.Fatalf("nil identifier must equal zero identifier")
	}
}

func TestSanitizeOrder(t *testing.T) {
	if _, err := SanitizeOrder(nil); err == nil {
		t.Fatalf("nil order must be rejected")
	}

	order := sampleOrder()
	order.Kind = OrderKind(9)
	if _, err := SanitizeOrder(order); err == nil {
		t.Fatalf("invalid order kind must be rejected")
	}

	order = sampleOrder()
	order.EndTime = order.StartTime
	if _, err := SanitizeOrder(order); err == nil {
		t.Fatalf("empty rental window must be rejected")
	}

	order = sampleOrder()
	order.Items[0].Amount = big.NewInt(0)
	if _, err := SanitizeOrder(order); err == nil {
		t.Fatalf("zero item amount must be rejected")
	}

	order = sampleOrder()
	order.Hooks[0].ItemIndex = 5
	if _, err := SanitizeOrder(order); err == nil {
		t.Fatalf("out-of-range hook index must be rejected")
	}

	order = sampleOrder()
	clean, err := SanitizeOrder(order)
	if err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}
	if clean == order {
		t.Fatalf("sanitize must return a clone")
	}
	if clean.Hash() != order.Hash() {
		t.Fatalf("sanitize must not change the order identity")
	}
}

func TestOrderItemPartitions(t *testing.T) {
	order := sampleOrder()
	if len(order.RentalAssets()) != 1 || order.RentalAssets()[0].Kind != ItemKindERC721 {
		t.Fatalf("rental asset partition wrong")
	}
	if len(order.Payments()) != 1 || order.Payments()[0].Kind != ItemKindERC20 {
		t.Fatalf("payment partition wrong")
	}
}

func TestKindPredicates(t *testing.T) {
	if !ItemKindERC721.IsRental() || !ItemKindERC1155.IsRental() || ItemKindERC20.IsRental() {
		t.Fatalf("rental predicate wrong")
	}
	if !ItemKindERC20.IsPayment() || ItemKindERC721.IsPayment() {
		t.Fatalf("payment predicate wrong")
	}
	if ItemKind(9).Valid() || OrderKind(9).Valid() || SettleTo(9).Valid() {
		t.Fatalf("out-of-range enum values must be invalid")
	}
}
