package rental

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SettlementMode is the execution mode reported by the settlement engine.
// The protocol only accepts full settlement: partial fills would break the
// item-composition grammars.
type SettlementMode uint8

const (
	SettlementModeFull SettlementMode = iota
	SettlementModePartial
)

// SpentItem is an offer-side item reported by the settlement engine.
type SpentItem struct {
	Kind       ItemKind
	Token      [20]byte
	Identifier *big.Int
	Amount     *big.Int
}

// ReceivedItem is a consideration-side item reported by the settlement engine.
type ReceivedItem struct {
	Kind       ItemKind
	Token      [20]byte
	Identifier *big.Int
	Amount     *big.Int
	Recipient  [20]byte
}

// Execution is a post-settlement transfer record. The converter verifies that
// every payment landed at the escrow and every rental asset landed at the
// custody wallet.
type Execution struct {
	Kind       ItemKind
	Token      [20]byte
	Identifier *big.Int
	Amount     *big.Int
	From       [20]byte
	To         [20]byte
}

// SettlementParams is the callback payload delivered by the settlement engine
// after a trade executes. ExtraData decodes into the signed rent payload.
type SettlementParams struct {
	Mode          SettlementMode
	TradeHash     [32]byte
	MetadataHash  [32]byte
	Offer         []SpentItem
	Consideration []ReceivedItem
	Executions    []Execution
	Fulfiller     [20]byte
	Offerer       [20]byte
	Payload       *RentPayload
	Signature     []byte
}

// SettlementAck is the magic acknowledgement the converter must return for the
// settlement engine to finalize the trade.
var SettlementAck = computeSettlementAck()

func computeSettlementAck() [4]byte {
	var ack [4]byte
	copy(ack[:], ethcrypto.Keccak256([]byte("rental.settlement.ack"))[:4])
	return ack
}
