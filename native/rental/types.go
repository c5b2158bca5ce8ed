package rental

import (
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ItemKind identifies the token standard of an item that moved through the
// settlement engine.
type ItemKind uint8

const (
	ItemKindERC20 ItemKind = iota
	ItemKindERC721
	ItemKindERC1155
)

// Valid reports whether the kind is within the supported range.
func (k ItemKind) Valid() bool {
	switch k {
	case ItemKindERC20, ItemKindERC721, ItemKindERC1155:
		return true
	default:
		return false
	}
}

// IsRental reports whether items of this kind are rentable assets.
func (k ItemKind) IsRental() bool {
	return k == ItemKindERC721 || k == ItemKindERC1155
}

// IsPayment reports whether items of this kind are payment tokens.
func (k ItemKind) IsPayment() bool {
	return k == ItemKindERC20
}

func (k ItemKind) String() string {
	switch k {
	case ItemKindERC20:
		return "erc20"
	case ItemKindERC721:
		return "erc721"
	case ItemKindERC1155:
		return "erc1155"
	default:
		return fmt.Sprintf("itemkind(%d)", uint8(k))
	}
}

// SettleTo designates which party receives an item when the rental ends.
type SettleTo uint8

const (
	SettleToLender SettleTo = iota
	SettleToRenter
)

// Valid reports whether the settlement target is within the supported range.
func (s SettleTo) Valid() bool {
	return s == SettleToLender || s == SettleToRenter
}

func (s SettleTo) String() string {
	switch s {
	case SettleToLender:
		return "lender"
	case SettleToRenter:
		return "renter"
	default:
		return fmt.Sprintf("settleto(%d)", uint8(s))
	}
}

// OrderKind determines the item composition grammar of a rental order.
//
//   - BASE: offer is rental assets only, consideration is lender payments only.
//   - PAY: offer mixes rental assets and renter payments, consideration empty.
//   - PAYEE: mirror of PAY fulfilled by a third party, offer empty.
type OrderKind uint8

const (
	OrderKindBase OrderKind = iota
	OrderKindPay
	OrderKindPayee
)

// Valid reports whether the order kind is within the supported range.
func (k OrderKind) Valid() bool {
	switch k {
	case OrderKindBase, OrderKindPay, OrderKindPayee:
		return true
	default:
		return false
	}
}

func (k OrderKind) String() string {
	switch k {
	case OrderKindBase:
		return "base"
	case OrderKindPay:
		return "pay"
	case OrderKindPayee:
		return "payee"
	default:
		return fmt.Sprintf("orderkind(%d)", uint8(k))
	}
}

// RentalID is the derived key indexing the rented-amount counter. It scopes an
// asset instance by the custodial wallet holding it.
type RentalID [32]byte

// NewRentalID derives the rented-amount counter key for an asset held by a
// custodial wallet.
func NewRentalID(wallet [20]byte, token [20]byte, identifier *big.Int) RentalID {
	id := big.NewInt(0)
	if identifier != nil {
		id = identifier
	}
	var out RentalID
	copy(out[:], ethcrypto.Keccak256(wallet[:], token[:], ethcommon.LeftPadBytes(id.Bytes(), 32)))
	return out
}

// RentalItem is a single asset or payment captured by a rental order. Items
// are immutable once the order is constructed.
type RentalItem struct {
	Kind       ItemKind
	SettleTo   SettleTo
	Token      [20]byte
	Amount     *big.Int
	Identifier *big.Int
}

// Clone returns a deep copy of the item.
func (i RentalItem) Clone() RentalItem {
	clone := i
	if i.Amount != nil {
		clone.Amount = new(big.Int).Set(i.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if i.Identifier != nil {
		clone.Identifier = new(big.Int).Set(i.Identifier)
	} else {
		clone.Identifier = big.NewInt(0)
	}
	return clone
}

// IsRental reports whether the item is a rentable asset.
func (i RentalItem) IsRental() bool { return i.Kind.IsRental() }

// IsPayment reports whether the item is an ERC20 payment.
func (i RentalItem) IsPayment() bool { return i.Kind.IsPayment() }

// RentalID derives the rented-amount counter key for the item when custodied
// by the given wallet.
func (i RentalItem) RentalID(wallet [20]byte) RentalID {
	return NewRentalID(wallet, i.Token, i.Identifier)
}

func (i RentalItem) hash() []byte {
	return ethcrypto.Keccak256(
		[]byte{uint8(i.Kind)},
		[]byte{uint8(i.SettleTo)},
		i.Token[:],
		ethcommon.LeftPadBytes(bigOrZero(i.Amount).Bytes(), 32),
		ethcommon.LeftPadBytes(bigOrZero(i.Identifier).Bytes(), 32),
	)
}

// Hook names a middleware contract bound to one item of a rental order.
type Hook struct {
	Target    [20]byte
	ItemIndex uint64
	Extra     []byte
}

// Clone returns a deep copy of the hook.
func (h Hook) Clone() Hook {
	clone := h
	clone.Extra = append([]byte(nil), h.Extra...)
	return clone
}

func (h Hook) hash() []byte {
	var idx [8]byte
	putUint64(idx[:], h.ItemIndex)
	return ethcrypto.Keccak256(h.Target[:], idx[:], ethcrypto.Keccak256(h.Extra))
}

// RentalOrder is the canonical record of a started rental. The struct is never
// persisted: only its hash is stored in the ledger, and the full contents are
// reconstructed from emitted history by callers wishing to stop the order.
type RentalOrder struct {
	TradeHash [32]byte
	Items     []RentalItem
	Hooks     []Hook
	Kind      OrderKind
	Lender    [20]byte
	Renter    [20]byte
	Wallet    [20]byte
	StartTime uint64
	EndTime   uint64
}

// Clone returns a deep copy of the order so callers can safely mutate the copy
// without affecting the original.
func (o *RentalOrder) Clone() *RentalOrder {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = make([]RentalItem, len(o.Items))
	for i, item := range o.Items {
		clone.Items[i] = item.Clone()
	}
	clone.Hooks = make([]Hook, len(o.Hooks))
	for i, hook := range o.Hooks {
		clone.Hooks[i] = hook.Clone()
	}
	return &clone
}

// Hash computes the deterministic structural hash over all order fields. The
// hash is the only ledger-persisted representation of the order, so any field
// change produces a different identity.
func (o *RentalOrder) Hash() [32]byte {
	itemHashes := make([]byte, 0, len(o.Items)*32)
	for _, item := range o.Items {
		itemHashes = append(itemHashes, item.hash()...)
	}
	hookHashes := make([]byte, 0, len(o.Hooks)*32)
	for _, hook := range o.Hooks {
		hookHashes = append(hookHashes, hook.hash()...)
	}
	var times [16]byte
	putUint64(times[:8], o.StartTime)
	putUint64(times[8:], o.EndTime)
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(
		o.TradeHash[:],
		ethcrypto.Keccak256(itemHashes),
		ethcrypto.Keccak256(hookHashes),
		[]byte{uint8(o.Kind)},
		o.Lender[:],
		o.Renter[:],
		o.Wallet[:],
		times[:],
	))
	return out
}

// RentalAssets returns the rental asset items of the order.
func (o *RentalOrder) RentalAssets() []RentalItem {
	items := make([]RentalItem, 0, len(o.Items))
	for _, item := range o.Items {
		if item.IsRental() {
			items = append(items, item)
		}
	}
	return items
}

// Payments returns the ERC20 payment items of the order.
func (o *RentalOrder) Payments() []RentalItem {
	items := make([]RentalItem, 0, len(o.Items))
	for _, item := range o.Items {
		if item.IsPayment() {
			items = append(items, item)
		}
	}
	return items
}

// SanitizeOrder validates and normalises the supplied order, returning a
// cloned instance with non-nil amounts. The function does not mutate the
// original value.
func SanitizeOrder(o *RentalOrder) (*RentalOrder, error) {
	if o == nil {
		return nil, fmt.Errorf("rental: nil order")
	}
	clone := o.Clone()
	if !clone.Kind.Valid() {
		return nil, fmt.Errorf("rental: invalid order kind: %d", clone.Kind)
	}
	if clone.EndTime <= clone.StartTime {
		return nil, fmt.Errorf("rental: order end time must be after start time")
	}
	for idx, item := range clone.Items {
		if !item.Kind.Valid() {
			return nil, fmt.Errorf("rental: invalid item kind at index %d: %d", idx, item.Kind)
		}
		if !item.SettleTo.Valid() {
			return nil, fmt.Errorf("rental: invalid settlement target at index %d: %d", idx, item.SettleTo)
		}
		if item.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("rental: item amount must be positive at index %d", idx)
		}
	}
	for idx, hook := range clone.Hooks {
		if hook.ItemIndex >= uint64(len(clone.Items)) {
			return nil, fmt.Errorf("rental: hook item index out of range at index %d", idx)
		}
	}
	return clone, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func putUint64(dst []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}
