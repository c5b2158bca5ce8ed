package rental

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// WalletRegistry exposes the ownership view of the custodial wallet system.
// The wallet implementation itself is an external collaborator.
type WalletRegistry interface {
	IsOwner(wallet [20]byte, owner [20]byte) (bool, error)
}

// WalletExecutor performs authorized module-calls into a custodial wallet.
// Reclaim runs as delegated execution so the transfer originates from the
// wallet itself.
type WalletExecutor interface {
	ReclaimRentals(wallet [20]byte, recipient [20]byte, items []RentalItem) error
}

// DeploymentSalt derives the deterministic salt for the next custodial wallet
// deployment from the deployer address and the ledger's wallet nonce.
func DeploymentSalt(deployer [20]byte, nonce uint64) [32]byte {
	var buf [8]byte
	putUint64(buf[:], nonce)
	var salt [32]byte
	copy(salt[:], ethcrypto.Keccak256(deployer[:], buf[:]))
	return salt
}
