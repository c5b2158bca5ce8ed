package rental

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// OrderMetadata is the off-chain-attested description of the rental terms. Its
// hash must match the commitment carried in the signed trade, binding the
// metadata to one specific settlement.
type OrderMetadata struct {
	Kind         OrderKind
	RentDuration uint64
	Hooks        []Hook
	ExtraData    []byte
}

// Clone returns a deep copy of the metadata.
func (m *OrderMetadata) Clone() *OrderMetadata {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Hooks = make([]Hook, len(m.Hooks))
	for i, hook := range m.Hooks {
		clone.Hooks[i] = hook.Clone()
	}
	clone.ExtraData = append([]byte(nil), m.ExtraData...)
	return &clone
}

// Hash computes the deterministic structural hash of the metadata.
func (m *OrderMetadata) Hash() [32]byte {
	hookHashes := make([]byte, 0, len(m.Hooks)*32)
	for _, hook := range m.Hooks {
		hookHashes = append(hookHashes, hook.hash()...)
	}
	var duration [8]byte
	putUint64(duration[:], m.RentDuration)
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(
		[]byte{uint8(m.Kind)},
		duration[:],
		ethcrypto.Keccak256(hookHashes),
		ethcrypto.Keccak256(m.ExtraData),
	))
	return out
}

// RentPayload is the signed envelope accompanying every settled trade. The
// protocol signer co-signs it off-chain; conversion fails unless the signature
// recovers to a holder of the signer role.
type RentPayload struct {
	TradeHash         [32]byte
	Metadata          OrderMetadata
	Expiration        uint64
	IntendedFulfiller [20]byte
	Wallet            [20]byte
}

// Clone returns a deep copy of the payload.
func (p *RentPayload) Clone() *RentPayload {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Metadata = *p.Metadata.Clone()
	return &clone
}

// Hash computes the digest the protocol signer commits to.
func (p *RentPayload) Hash() [32]byte {
	metadataHash := p.Metadata.Hash()
	var expiration [8]byte
	putUint64(expiration[:], p.Expiration)
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(
		p.TradeHash[:],
		metadataHash[:],
		expiration[:],
		p.IntendedFulfiller[:],
		p.Wallet[:],
	))
	return out
}

// RecoverPayloadSigner recovers the address that signed the payload digest.
func RecoverPayloadSigner(p *RentPayload, signature []byte) ([20]byte, error) {
	var signer [20]byte
	if p == nil {
		return signer, fmt.Errorf("rental: nil payload")
	}
	if len(signature) != 65 {
		return signer, fmt.Errorf("rental: signature must be 65 bytes, got %d", len(signature))
	}
	digest := p.Hash()
	pubKey, err := ethcrypto.SigToPub(digest[:], signature)
	if err != nil {
		return signer, fmt.Errorf("rental: signature recovery failed: %w", err)
	}
	copy(signer[:], ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	return signer, nil
}
