package rental

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	nativecommon "rentchain/native/common"
)

// CallKind distinguishes a plain call from a delegate call when a custody
// wallet executes a transaction.
type CallKind uint8

const (
	CallKindCall CallKind = iota
	CallKindDelegate
)

func (k CallKind) String() string {
	switch k {
	case CallKindCall:
		return "call"
	case CallKindDelegate:
		return "delegatecall"
	default:
		return fmt.Sprintf("callkind(%d)", uint8(k))
	}
}

// Function selectors screened by the guard. Each is the first four bytes of
// the keccak hash of the canonical signature.
var (
	selERC721TransferFrom     = selector("transferFrom(address,address,uint256)")
	selERC721SafeTransfer     = selector("safeTransferFrom(address,address,uint256)")
	selERC721SafeTransferData = selector("safeTransferFrom(address,address,uint256,bytes)")
	selApprove                = selector("approve(address,uint256)")
	selERC721Burn             = selector("burn(uint256)")
	selERC1155SafeTransfer    = selector("safeTransferFrom(address,address,uint256,uint256,bytes)")
	selERC1155Burn            = selector("burn(address,uint256,uint256)")

	selERC1155SafeBatchTransfer = selector("safeBatchTransferFrom(address,address,uint256[],uint256[],bytes)")
	selERC1155BurnBatch         = selector("burnBatch(address,uint256[],uint256[])")
	selSetApprovalForAll        = selector("setApprovalForAll(address,bool)")
	selSetGuard                 = selector("setGuard(address)")
	selSetFallbackHandler       = selector("setFallbackHandler(address)")

	selEnableModule  = selector("enableModule(address)")
	selDisableModule = selector("disableModule(address,address)")
)

func selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], ethcrypto.Keccak256([]byte(signature))[:4])
	return sel
}

var guardDeactivatedKey = []byte("rental/guard/deactivated")

// ERC1155BalanceView reads multi-token balances so the guard can allow
// transfers of the unrented portion of a fungible position.
type ERC1155BalanceView interface {
	Balance1155(token [20]byte, holder [20]byte, id *big.Int) (*big.Int, error)
}

// Guard screens every transaction a custody wallet attempts to execute. It
// blocks calldata that would move or encumber an actively rented asset,
// restricts delegate calls to whitelisted targets and routes bound contracts
// through their hook middleware.
type Guard struct {
	ledger   *Ledger
	hooks    *HookRouter
	balances ERC1155BalanceView
	pauses   nativecommon.PauseView

	// emergencyUpgrade stays callable after deactivation so wallets can
	// migrate off a retired guard.
	emergencyUpgrade [20]byte
}

// NewGuard creates a transaction guard backed by the ledger's whitelists and
// rented-amount counters.
func NewGuard(ledger *Ledger, balances ERC1155BalanceView, emergencyUpgrade [20]byte) *Guard {
	return &Guard{
		ledger:           ledger,
		hooks:            NewHookRouter(),
		balances:         balances,
		emergencyUpgrade: emergencyUpgrade,
	}
}

// SetHooks replaces the hook router. Passing nil resets to an empty router.
func (g *Guard) SetHooks(router *HookRouter) {
	if router == nil {
		g.hooks = NewHookRouter()
		return
	}
	g.hooks = router
}

// SetPauses configures the governance pause view.
func (g *Guard) SetPauses(p nativecommon.PauseView) {
	if g == nil {
		return
	}
	g.pauses = p
}

// Deactivated reports whether the guard has been retired.
func (g *Guard) Deactivated() (bool, error) {
	var deactivated bool
	if _, err := g.ledger.st.KVGet(guardDeactivatedKey, &deactivated); err != nil {
		return false, err
	}
	return deactivated, nil
}

// Deactivate retires the guard. From then on wallets may only delegate-call
// the emergency upgrade target; the flag is one-way.
func (g *Guard) Deactivate(caller [20]byte) error {
	if err := g.ledger.requireAdmin(caller); err != nil {
		return err
	}
	return g.ledger.st.KVPut(guardDeactivatedKey, true)
}

// CheckTransaction renders a verdict on a wallet transaction before it
// executes. A nil return permits the transaction.
func (g *Guard) CheckTransaction(wallet [20]byte, to [20]byte, value *big.Int, data []byte, kind CallKind) error {
	if err := nativecommon.Guard(g.pauses, moduleName); err != nil {
		return err
	}
	deactivated, err := g.Deactivated()
	if err != nil {
		return err
	}
	if deactivated {
		if kind == CallKindDelegate && to == g.emergencyUpgrade {
			return nil
		}
		return ErrGuardDeactivated
	}
	if kind == CallKindDelegate {
		allowed, err := g.ledger.DelegateAllowed(to)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: %x", ErrDelegateNotWhitelisted, to)
		}
		return nil
	}
	if hook, bound, err := g.ledger.HookBinding(to); err != nil {
		return err
	} else if bound {
		flags, err := g.ledger.HookFlags(hook)
		if err != nil {
			return err
		}
		if flags.OnTransaction {
			return g.hooks.OnTransaction(hook, wallet, to, value, data)
		}
	}
	return g.checkCalldata(wallet, to, data)
}

// checkCalldata applies the static selector policy: batch moves, blanket
// approvals and wallet re-configuration are rejected outright, single-asset
// moves are rejected while the asset is rented, and module toggles follow the
// extension whitelist.
func (g *Guard) checkCalldata(wallet [20]byte, to [20]byte, data []byte) error {
	if len(data) < 4 {
		return nil
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	switch sel {
	case selERC1155SafeBatchTransfer, selERC1155BurnBatch, selSetApprovalForAll, selSetGuard, selSetFallbackHandler:
		return fmt.Errorf("%w: %x", ErrSelectorBlocked, sel)
	case selERC721TransferFrom, selERC721SafeTransfer:
		identifier, err := calldataWordBig(data, 2)
		if err != nil {
			return err
		}
		return g.requireNotRented(wallet, to, identifier)
	case selERC721SafeTransferData:
		identifier, err := calldataWordBig(data, 2)
		if err != nil {
			return err
		}
		return g.requireNotRented(wallet, to, identifier)
	case selApprove:
		identifier, err := calldataWordBig(data, 1)
		if err != nil {
			return err
		}
		return g.requireNotRented(wallet, to, identifier)
	case selERC721Burn:
		identifier, err := calldataWordBig(data, 0)
		if err != nil {
			return err
		}
		return g.requireNotRented(wallet, to, identifier)
	case selERC1155SafeTransfer:
		identifier, err := calldataWordBig(data, 2)
		if err != nil {
			return err
		}
		amount, err := calldataWordBig(data, 3)
		if err != nil {
			return err
		}
		return g.requireUnrentedBalance(wallet, to, identifier, amount)
	case selERC1155Burn:
		identifier, err := calldataWordBig(data, 1)
		if err != nil {
			return err
		}
		amount, err := calldataWordBig(data, 2)
		if err != nil {
			return err
		}
		return g.requireUnrentedBalance(wallet, to, identifier, amount)
	case selEnableModule:
		extension, err := calldataWordAddr(data, 0)
		if err != nil {
			return err
		}
		flags, err := g.ledger.ExtensionFlags(extension)
		if err != nil {
			return err
		}
		if !flags.EnableAllowed {
			return fmt.Errorf("%w: enable %x", ErrExtensionNotWhitelisted, extension)
		}
		return nil
	case selDisableModule:
		extension, err := calldataWordAddr(data, 1)
		if err != nil {
			return err
		}
		flags, err := g.ledger.ExtensionFlags(extension)
		if err != nil {
			return err
		}
		if !flags.DisableAllowed {
			return fmt.Errorf("%w: disable %x", ErrExtensionNotWhitelisted, extension)
		}
		return nil
	default:
		return nil
	}
}

// requireNotRented rejects the transaction if any amount of the asset is
// actively rented by the wallet.
func (g *Guard) requireNotRented(wallet [20]byte, token [20]byte, identifier *big.Int) error {
	rented, err := g.ledger.RentedAmount(NewRentalID(wallet, token, identifier))
	if err != nil {
		return err
	}
	if rented.Sign() > 0 {
		return fmt.Errorf("%w: %x/%s", ErrAssetRented, token, identifier)
	}
	return nil
}

// requireUnrentedBalance allows moving only the unrented portion of a fungible
// position: the balance remaining after the transfer must still cover every
// active rental.
func (g *Guard) requireUnrentedBalance(wallet [20]byte, token [20]byte, identifier, amount *big.Int) error {
	rented, err := g.ledger.RentedAmount(NewRentalID(wallet, token, identifier))
	if err != nil {
		return err
	}
	if rented.Sign() == 0 {
		return nil
	}
	if g.balances == nil {
		return fmt.Errorf("%w: %x/%s", ErrAssetRented, token, identifier)
	}
	balance, err := g.balances.Balance1155(token, wallet, identifier)
	if err != nil {
		return err
	}
	remaining := new(big.Int).Sub(balance, bigOrZero(amount))
	if remaining.Cmp(rented) < 0 {
		return fmt.Errorf("%w: %x/%s", ErrAssetRented, token, identifier)
	}
	return nil
}

// calldataWordBig reads the i-th 32-byte argument word as an unsigned integer.
func calldataWordBig(data []byte, i int) (*big.Int, error) {
	word, err := calldataWord(data, i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(word), nil
}

// calldataWordAddr reads the i-th 32-byte argument word as an address.
func calldataWordAddr(data []byte, i int) ([20]byte, error) {
	var addr [20]byte
	word, err := calldataWord(data, i)
	if err != nil {
		return addr, err
	}
	copy(addr[:], word[12:])
	return addr, nil
}

func calldataWord(data []byte, i int) ([]byte, error) {
	start := 4 + 32*i
	end := start + 32
	if len(data) < end {
		return nil, fmt.Errorf("rental: calldata too short for argument %d", i)
	}
	return data[start:end], nil
}
