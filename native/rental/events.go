package rental

import (
	"encoding/hex"
	"strconv"

	"github.com/ethereum/go-ethereum/rlp"

	"rentchain/core/types"
)

const (
	// EventTypeRentalStarted carries the complete rental order. It is the
	// only durable representation of the full order contents: stopping an
	// order later requires reconstructing the struct from this event.
	EventTypeRentalStarted = "rental.started"
	// EventTypeRentalStopped records the trade hash and the caller that
	// stopped the rental.
	EventTypeRentalStopped = "rental.stopped"
	// EventTypeEscrowSettled records one payment item paid out of escrow.
	EventTypeEscrowSettled = "escrow.settled"
)

type rentalEvent struct {
	evt *types.Event
}

func (e *rentalEvent) EventType() string {
	if e == nil || e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e *rentalEvent) Event() *types.Event { return e.evt }

// EncodeOrder serializes a rental order for event emission.
func EncodeOrder(order *RentalOrder) ([]byte, error) {
	sanitized, err := SanitizeOrder(order)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(sanitized)
}

// DecodeOrder reconstructs a rental order from its event encoding. Callers
// must still verify the order hash against the ledger before trusting it.
func DecodeOrder(data []byte) (*RentalOrder, error) {
	order := new(RentalOrder)
	if err := rlp.DecodeBytes(data, order); err != nil {
		return nil, err
	}
	return SanitizeOrder(order)
}

// NewRentalStartedEvent builds the canonical rental-started event. The full
// order is embedded RLP-encoded alongside indexed attributes.
func NewRentalStartedEvent(order *RentalOrder, extraData []byte) *rentalEvent {
	attrs := make(map[string]string)
	evt := &types.Event{Type: EventTypeRentalStarted, Attributes: attrs}
	if order == nil {
		return &rentalEvent{evt: evt}
	}
	encoded, err := EncodeOrder(order)
	if err != nil {
		return &rentalEvent{evt: evt}
	}
	orderHash := order.Hash()
	attrs["orderHash"] = hex.EncodeToString(orderHash[:])
	attrs["tradeHash"] = hex.EncodeToString(order.TradeHash[:])
	attrs["kind"] = order.Kind.String()
	attrs["lender"] = hex.EncodeToString(order.Lender[:])
	attrs["renter"] = hex.EncodeToString(order.Renter[:])
	attrs["wallet"] = hex.EncodeToString(order.Wallet[:])
	attrs["startTime"] = strconv.FormatUint(order.StartTime, 10)
	attrs["endTime"] = strconv.FormatUint(order.EndTime, 10)
	attrs["items"] = strconv.Itoa(len(order.Items))
	attrs["hooks"] = strconv.Itoa(len(order.Hooks))
	attrs["order"] = hex.EncodeToString(encoded)
	if len(extraData) > 0 {
		attrs["extraData"] = hex.EncodeToString(extraData)
	}
	return &rentalEvent{evt: evt}
}

// NewEscrowSettledEvent records a single payment payout. Mode is "prorata"
// for time-split PAY settlements and "full" otherwise.
func NewEscrowSettledEvent(orderHash [32]byte, token [20]byte, amount string, mode string) *rentalEvent {
	attrs := map[string]string{
		"orderHash": hex.EncodeToString(orderHash[:]),
		"token":     hex.EncodeToString(token[:]),
		"amount":    amount,
		"mode":      mode,
	}
	return &rentalEvent{evt: &types.Event{Type: EventTypeEscrowSettled, Attributes: attrs}}
}

// NewRentalStoppedEvent builds the canonical rental-stopped event.
func NewRentalStoppedEvent(orderHash [32]byte, tradeHash [32]byte, kind OrderKind, stopper [20]byte) *rentalEvent {
	attrs := map[string]string{
		"orderHash": hex.EncodeToString(orderHash[:]),
		"tradeHash": hex.EncodeToString(tradeHash[:]),
		"kind":      kind.String(),
		"stopper":   hex.EncodeToString(stopper[:]),
	}
	return &rentalEvent{evt: &types.Event{Type: EventTypeRentalStopped, Attributes: attrs}}
}
