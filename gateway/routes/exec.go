package routes

import (
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	nativecommon "rentchain/native/common"
	"rentchain/native/rental"
	"rentchain/observability"
)

// ExecAPI exposes the settlement callback, the stop path and the guard
// pre-check over HTTP. The settlement endpoint is the entry point a settlement
// engine integration posts its post-trade callback to; the stop endpoints let
// order parties tear a rental down once eligible.
type ExecAPI struct {
	converter *rental.Converter
	stop      *rental.StopEngine
	guard     *rental.Guard
}

func NewExecAPI(converter *rental.Converter, stop *rental.StopEngine, guard *rental.Guard) *ExecAPI {
	return &ExecAPI{converter: converter, stop: stop, guard: guard}
}

type settlementRequest struct {
	// Params is the RLP-encoded settlement callback payload, hex encoded.
	Params string `json:"params"`
}

func (api *ExecAPI) Settle(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	raw, err := decodeHexField(req.Params)
	if err != nil {
		badRequest(w, err)
		return
	}
	params := new(rental.SettlementParams)
	if err := rlp.DecodeBytes(raw, params); err != nil {
		badRequest(w, errors.New("malformed settlement params"))
		return
	}
	ack, order, err := api.converter.ValidateOrder(params)
	if err != nil {
		observability.Rental().RecordConversionFailure()
		execFail(w, err)
		return
	}
	response := map[string]any{"ack": hex.EncodeToString(ack[:])}
	if order != nil {
		orderHash := order.Hash()
		encoded, err := rental.EncodeOrder(order)
		if err != nil {
			execFail(w, err)
			return
		}
		response["orderHash"] = hex.EncodeToString(orderHash[:])
		response["order"] = hex.EncodeToString(encoded)
	}
	writeJSON(w, http.StatusOK, response)
}

type stopRequest struct {
	Caller string `json:"caller"`
	// Order is the RLP order encoding from the rental.started event.
	Order string `json:"order"`
}

func (api *ExecAPI) Stop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		badRequest(w, err)
		return
	}
	order, err := decodeOrderField(req.Order)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := api.stop.Stop(caller, order); err != nil {
		execFail(w, err)
		return
	}
	orderHash := order.Hash()
	writeJSON(w, http.StatusOK, map[string]string{"orderHash": hex.EncodeToString(orderHash[:])})
}

type stopBatchRequest struct {
	Caller string   `json:"caller"`
	Orders []string `json:"orders"`
}

func (api *ExecAPI) StopBatch(w http.ResponseWriter, r *http.Request) {
	var req stopBatchRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		badRequest(w, err)
		return
	}
	orders := make([]*rental.RentalOrder, 0, len(req.Orders))
	for _, encoded := range req.Orders {
		order, err := decodeOrderField(encoded)
		if err != nil {
			badRequest(w, err)
			return
		}
		orders = append(orders, order)
	}
	if err := api.stop.StopBatch(caller, orders); err != nil {
		execFail(w, err)
		return
	}
	hashes := make([]string, len(orders))
	for i, order := range orders {
		orderHash := order.Hash()
		hashes[i] = hex.EncodeToString(orderHash[:])
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderHashes": hashes})
}

type guardCheckRequest struct {
	Wallet string `json:"wallet"`
	To     string `json:"to"`
	Value  string `json:"value"`
	Data   string `json:"data"`
	Kind   string `json:"kind"`
}

// GuardCheck runs the transaction guard against a proposed wallet transaction
// without executing anything, so integrators can pre-flight calldata.
func (api *ExecAPI) GuardCheck(w http.ResponseWriter, r *http.Request) {
	var req guardCheckRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	wallet, err := parseAddr(req.Wallet)
	if err != nil {
		badRequest(w, err)
		return
	}
	to, err := parseAddr(req.To)
	if err != nil {
		badRequest(w, err)
		return
	}
	value := big.NewInt(0)
	if trimmed := strings.TrimSpace(req.Value); trimmed != "" {
		parsed, ok := new(big.Int).SetString(trimmed, 10)
		if !ok {
			badRequest(w, errors.New("invalid value"))
			return
		}
		value = parsed
	}
	var data []byte
	if strings.TrimSpace(req.Data) != "" {
		data, err = decodeHexField(req.Data)
		if err != nil {
			badRequest(w, err)
			return
		}
	}
	kind := rental.CallKindCall
	switch strings.ToLower(strings.TrimSpace(req.Kind)) {
	case "", "call":
	case "delegatecall":
		kind = rental.CallKindDelegate
	default:
		badRequest(w, errors.New("kind must be call or delegatecall"))
		return
	}
	if err := api.guard.CheckTransaction(wallet, to, value, data, kind); err != nil {
		observability.Rental().RecordGuardVeto(vetoCause(err))
		writeJSON(w, http.StatusOK, map[string]any{"allowed": false, "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": true})
}

func vetoCause(err error) string {
	switch {
	case errors.Is(err, rental.ErrAssetRented):
		return "asset_rented"
	case errors.Is(err, rental.ErrSelectorBlocked):
		return "selector_blocked"
	case errors.Is(err, rental.ErrDelegateNotWhitelisted):
		return "delegate"
	case errors.Is(err, rental.ErrExtensionNotWhitelisted):
		return "extension"
	case errors.Is(err, rental.ErrGuardDeactivated):
		return "deactivated"
	default:
		return "other"
	}
}

func decodeOrderField(raw string) (*rental.RentalOrder, error) {
	data, err := decodeHexField(raw)
	if err != nil {
		return nil, err
	}
	order, err := rental.DecodeOrder(data)
	if err != nil {
		return nil, errors.New("malformed order encoding")
	}
	return order, nil
}

func decodeHexField(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if trimmed == "" {
		return nil, errors.New("hex payload required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, errors.New("invalid hex payload")
	}
	return decoded, nil
}

func execFail(w http.ResponseWriter, err error) {
	var hookErr *rental.HookError
	if errors.As(err, &hookErr) {
		observability.Rental().RecordHookFailure(hookErr.Class.String())
	}
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, rental.ErrOrderDoesNotExist):
		status = http.StatusNotFound
	case errors.Is(err, rental.ErrUnauthorized), errors.Is(err, rental.ErrSignerUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, rental.ErrCannotStopOrder):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
