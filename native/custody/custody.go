package custody

import (
	"errors"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"rentchain/native/rental"
)

var (
	ErrInsufficientBalance = errors.New("custody: insufficient token balance")
	ErrInsufficientAssets  = errors.New("custody: wallet does not hold the requested assets")
	ErrZeroAmount          = errors.New("custody: amount must be positive")
)

var (
	bankBalancePrefix = []byte("custody/bank/")
	ownerPrefix       = []byte("custody/owner/")
	holdingPrefix     = []byte("custody/holding/")
)

// protocolState mirrors the narrow KV surface the rental engines use.
type protocolState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

func bankKey(token [20]byte, holder [20]byte) []byte {
	return append(append(append([]byte(nil), bankBalancePrefix...), token[:]...), holder[:]...)
}

func ownerKey(wallet [20]byte, owner [20]byte) []byte {
	return append(append(append([]byte(nil), ownerPrefix...), wallet[:]...), owner[:]...)
}

func holdingKey(holder [20]byte, token [20]byte, identifier *big.Int) []byte {
	id := big.NewInt(0)
	if identifier != nil {
		id = identifier
	}
	digest := ethcrypto.Keccak256(holder[:], token[:], ethcommon.LeftPadBytes(id.Bytes(), 32))
	return append(append([]byte(nil), holdingPrefix...), digest...)
}

// Bank is the state-backed ERC20 ledger the escrow settles against. Transfers
// always debit the configured source account, which in the node wiring is the
// escrow's own address.
type Bank struct {
	st     protocolState
	source [20]byte
}

// NewBank creates a bank whose outbound transfers debit the source account.
func NewBank(st protocolState, source [20]byte) *Bank {
	return &Bank{st: st, source: source}
}

// BalanceOf returns the tracked balance of holder for the given token.
func (b *Bank) BalanceOf(token [20]byte, holder [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := b.st.KVGet(bankKey(token, holder), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// Credit records an inbound token deposit for the holder. This is how payment
// legs land on the escrow account when an order starts.
func (b *Bank) Credit(token [20]byte, holder [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	balance, err := b.BalanceOf(token, holder)
	if err != nil {
		return err
	}
	return b.st.KVPut(bankKey(token, holder), new(big.Int).Add(balance, amount))
}

// Transfer moves tokens from the source account to the recipient.
func (b *Bank) Transfer(token [20]byte, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	balance, err := b.BalanceOf(token, b.source)
	if err != nil {
		return err
	}
	remaining := new(big.Int).Sub(balance, amount)
	if remaining.Sign() < 0 {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, amount, balance)
	}
	sourceKey := bankKey(token, b.source)
	if remaining.Sign() == 0 {
		if err := b.st.KVDelete(sourceKey); err != nil {
			return err
		}
	} else if err := b.st.KVPut(sourceKey, remaining); err != nil {
		return err
	}
	current, err := b.BalanceOf(token, to)
	if err != nil {
		return err
	}
	return b.st.KVPut(bankKey(token, to), new(big.Int).Add(current, amount))
}

// Vault tracks custodial wallet ownership and the rentable assets each wallet
// holds. It backs the converter's ownership checks and the stop engine's
// reclaim execution.
type Vault struct {
	st protocolState
}

func NewVault(st protocolState) *Vault {
	return &Vault{st: st}
}

// RegisterOwner marks owner as a member of the wallet's owner set.
func (v *Vault) RegisterOwner(wallet [20]byte, owner [20]byte) error {
	return v.st.KVPut(ownerKey(wallet, owner), true)
}

// IsOwner reports whether owner belongs to the wallet's owner set.
func (v *Vault) IsOwner(wallet [20]byte, owner [20]byte) (bool, error) {
	var member bool
	ok, err := v.st.KVGet(ownerKey(wallet, owner), &member)
	if err != nil {
		return false, err
	}
	return ok && member, nil
}

// Deposit records assets arriving in a holder's custody.
func (v *Vault) Deposit(holder [20]byte, token [20]byte, identifier *big.Int, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	held, err := v.Balance1155(token, holder, identifier)
	if err != nil {
		return err
	}
	return v.st.KVPut(holdingKey(holder, token, identifier), new(big.Int).Add(held, amount))
}

// Balance1155 returns the tracked holding of an asset. ERC721 holdings read as
// zero or one.
func (v *Vault) Balance1155(token [20]byte, holder [20]byte, identifier *big.Int) (*big.Int, error) {
	held := new(big.Int)
	ok, err := v.st.KVGet(holdingKey(holder, token, identifier), held)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return held, nil
}

// ReclaimRentals moves every rental asset of the order out of the wallet and
// back to the recipient. Payment items are skipped; they settle through the
// escrow.
func (v *Vault) ReclaimRentals(wallet [20]byte, recipient [20]byte, items []rental.RentalItem) error {
	for _, item := range items {
		if !item.IsRental() {
			continue
		}
		amount := big.NewInt(1)
		if item.Kind == rental.ItemKindERC1155 && item.Amount != nil {
			amount = item.Amount
		}
		if err := v.move(wallet, recipient, item.Token, item.Identifier, amount); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vault) move(from [20]byte, to [20]byte, token [20]byte, identifier *big.Int, amount *big.Int) error {
	held, err := v.Balance1155(token, from, identifier)
	if err != nil {
		return err
	}
	remaining := new(big.Int).Sub(held, amount)
	if remaining.Sign() < 0 {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientAssets, amount, held)
	}
	fromKey := holdingKey(from, token, identifier)
	if remaining.Sign() == 0 {
		if err := v.st.KVDelete(fromKey); err != nil {
			return err
		}
	} else if err := v.st.KVPut(fromKey, remaining); err != nil {
		return err
	}
	current, err := v.Balance1155(token, to, identifier)
	if err != nil {
		return err
	}
	return v.st.KVPut(holdingKey(to, token, identifier), new(big.Int).Add(current, amount))
}
