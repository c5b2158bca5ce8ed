package routes

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"rentchain/crypto"
	nativecommon "rentchain/native/common"
	"rentchain/native/rental"
)

// RentalAPI exposes ledger and escrow state over HTTP and performs admin
// mutations under the gateway's protocol identity.
type RentalAPI struct {
	ledger *rental.Ledger
	escrow *rental.PaymentEscrow
	pauses *nativecommon.Pauses
	admin  [20]byte
	logger *slog.Logger
}

// NewRentalAPI creates the handler set. The admin address must hold the
// rental admin role for the mutation endpoints to succeed.
func NewRentalAPI(ledger *rental.Ledger, escrow *rental.PaymentEscrow, pauses *nativecommon.Pauses, admin [20]byte, logger *slog.Logger) *RentalAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &RentalAPI{ledger: ledger, escrow: escrow, pauses: pauses, admin: admin, logger: logger}
}

// --- Reads ---

func (api *RentalAPI) GetParams(w http.ResponseWriter, r *http.Request) {
	params, err := api.ledger.Params()
	if err != nil {
		api.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{
		"maxRentDuration":       params.MaxRentDuration,
		"maxOfferItems":         params.MaxOfferItems,
		"maxConsiderationItems": params.MaxConsiderationItems,
	})
}

func (api *RentalAPI) GetOrder(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHash(chi.URLParam(r, "hash"))
	if err != nil {
		badRequest(w, err)
		return
	}
	active, err := api.ledger.IsOrderActive(hash)
	if err != nil {
		api.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orderHash": hex.EncodeToString(hash[:]),
		"active":    active,
	})
}

func (api *RentalAPI) GetRentedAmount(w http.ResponseWriter, r *http.Request) {
	wallet, err := parseAddr(chi.URLParam(r, "wallet"))
	if err != nil {
		badRequest(w, err)
		return
	}
	token, err := parseAddr(chi.URLParam(r, "token"))
	if err != nil {
		badRequest(w, err)
		return
	}
	identifier, ok := new(big.Int).SetString(chi.URLParam(r, "id"), 10)
	if !ok {
		badRequest(w, errors.New("invalid token identifier"))
		return
	}
	rented, err := api.ledger.RentedAmount(rental.NewRentalID(wallet, token, identifier))
	if err != nil {
		api.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rented": rented.String()})
}

func (api *RentalAPI) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := parseAddr(chi.URLParam(r, "wallet"))
	if err != nil {
		badRequest(w, err)
		return
	}
	nonce, deployed, err := api.ledger.WalletNonce(wallet)
	if err != nil {
		api.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deployed": deployed,
		"nonce":    nonce,
	})
}

func (api *RentalAPI) GetAssetFlags(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddr(chi.URLParam(r, "token"))
	if err != nil {
		badRequest(w, err)
		return
	}
	flags, err := api.ledger.AssetFlags(token)
	if err != nil {
		api.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"permitRestricted": flags.PermitRestricted,
		"rentable":         flags.Rentable,
	})
}

func (api *RentalAPI) GetPaymentAllowed(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddr(chi.URLParam(r, "token"))
	if err != nil {
		badRequest(w, err)
		return
	}
	allowed, err := api.ledger.PaymentAllowed(token)
	if err != nil {
		api.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (api *RentalAPI) GetDelegateAllowed(w http.ResponseWriter, r *http.Request) {
	target, err := parseAddr(chi.URLParam(r, "target"))
	if err != nil {
		badRequest(w, err)
		return
	}
	allowed, err := api.ledger.DelegateAllowed(target)
	if err != nil {
		api.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (api *RentalAPI) GetHookFlags(w http.ResponseWriter, r *http.Request) {
	target, err := parseAddr(chi.URLParam(r, "target"))
	if err != nil {
		badRequest(w, err)
		return
	}
	flags, err := api.ledger.HookFlags(target)
	if err != nil {
		api.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"onTransaction": flags.OnTransaction,
		"onStart":       flags.OnStart,
		"onStop":        flags.OnStop,
	})
}

func (api *RentalAPI) GetEscrowBalance(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddr(chi.URLParam(r, "token"))
	if err != nil {
		badRequest(w, err)
		return
	}
	balance, err := api.escrow.Balance(token)
	if err != nil {
		api.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (api *RentalAPI) GetPaused(w http.ResponseWriter, r *http.Request) {
	paused := false
	if api.pauses != nil {
		paused = api.pauses.IsPaused("rental")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (api *RentalAPI) GetEscrowFee(w http.ResponseWriter, r *http.Request) {
	fee, err := api.escrow.Fee()
	if err != nil {
		api.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"feeBps": fee})
}

// --- Admin mutations ---

type assetFlagsRequest struct {
	Token            string `json:"token"`
	PermitRestricted bool   `json:"permitRestricted"`
	Rentable         bool   `json:"rentable"`
}

func (api *RentalAPI) SetAssetFlags(w http.ResponseWriter, r *http.Request) {
	var req assetFlagsRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	token, err := parseAddr(req.Token)
	if err != nil {
		badRequest(w, err)
		return
	}
	flags := rental.AssetFlags{PermitRestricted: req.PermitRestricted, Rentable: req.Rentable}
	if err := api.ledger.SetAssetFlags(api.admin, token, flags); err != nil {
		api.fail(w, err)
		return
	}
	api.logger.Info("asset whitelist updated", "token", req.Token, "rentable", req.Rentable)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type allowedRequest struct {
	Token   string `json:"token"`
	Allowed bool   `json:"allowed"`
}

func (api *RentalAPI) SetPaymentAllowed(w http.ResponseWriter, r *http.Request) {
	var req allowedRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	token, err := parseAddr(req.Token)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := api.ledger.SetPaymentAllowed(api.admin, token, req.Allowed); err != nil {
		api.fail(w, err)
		return
	}
	api.logger.Info("payment whitelist updated", "token", req.Token, "allowed", req.Allowed)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (api *RentalAPI) SetDelegateAllowed(w http.ResponseWriter, r *http.Request) {
	var req allowedRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	target, err := parseAddr(req.Token)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := api.ledger.SetDelegateAllowed(api.admin, target, req.Allowed); err != nil {
		api.fail(w, err)
		return
	}
	api.logger.Info("delegate whitelist updated", "target", req.Token, "allowed", req.Allowed)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type extensionFlagsRequest struct {
	Extension      string `json:"extension"`
	EnableAllowed  bool   `json:"enableAllowed"`
	DisableAllowed bool   `json:"disableAllowed"`
}

func (api *RentalAPI) SetExtensionFlags(w http.ResponseWriter, r *http.Request) {
	var req extensionFlagsRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	extension, err := parseAddr(req.Extension)
	if err != nil {
		badRequest(w, err)
		return
	}
	flags := rental.ExtensionFlags{EnableAllowed: req.EnableAllowed, DisableAllowed: req.DisableAllowed}
	if err := api.ledger.SetExtensionFlags(api.admin, extension, flags); err != nil {
		api.fail(w, err)
		return
	}
	api.logger.Info("extension whitelist updated", "extension", req.Extension)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type hookFlagsRequest struct {
	Target        string `json:"target"`
	OnTransaction bool   `json:"onTransaction"`
	OnStart       bool   `json:"onStart"`
	OnStop        bool   `json:"onStop"`
}

func (api *RentalAPI) SetHookFlags(w http.ResponseWriter, r *http.Request) {
	var req hookFlagsRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	target, err := parseAddr(req.Target)
	if err != nil {
		badRequest(w, err)
		return
	}
	flags := rental.HookFlags{OnTransaction: req.OnTransaction, OnStart: req.OnStart, OnStop: req.OnStop}
	if err := api.ledger.SetHookFlags(api.admin, target, flags); err != nil {
		api.fail(w, err)
		return
	}
	api.logger.Info("hook approval updated", "target", req.Target)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type hookBindingRequest struct {
	Contract string `json:"contract"`
	Hook     string `json:"hook"`
}

func (api *RentalAPI) SetHookBinding(w http.ResponseWriter, r *http.Request) {
	var req hookBindingRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	contract, err := parseAddr(req.Contract)
	if err != nil {
		badRequest(w, err)
		return
	}
	var hook [20]byte
	if strings.TrimSpace(req.Hook) != "" {
		hook, err = parseAddr(req.Hook)
		if err != nil {
			badRequest(w, err)
			return
		}
	}
	if err := api.ledger.SetHookBinding(api.admin, contract, hook); err != nil {
		api.fail(w, err)
		return
	}
	api.logger.Info("hook binding updated", "contract", req.Contract, "hook", req.Hook)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

// SetPause freezes or unfreezes the protocol engines. Every mutating engine
// entry point rejects calls while the module is paused.
func (api *RentalAPI) SetPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if api.pauses == nil {
		api.fail(w, errors.New("pause registry not configured"))
		return
	}
	if err := api.pauses.SetPaused(api.admin, "rental", req.Paused); err != nil {
		api.fail(w, err)
		return
	}
	api.logger.Warn("module pause updated", "paused", req.Paused)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type feeRequest struct {
	FeeBps uint64 `json:"feeBps"`
}

func (api *RentalAPI) SetEscrowFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := api.escrow.SetFee(api.admin, req.FeeBps); err != nil {
		api.fail(w, err)
		return
	}
	api.logger.Info("escrow fee updated", "feeBps", req.FeeBps)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type limitsRequest struct {
	MaxRentDuration       *uint64 `json:"maxRentDuration"`
	MaxOfferItems         *uint64 `json:"maxOfferItems"`
	MaxConsiderationItems *uint64 `json:"maxConsiderationItems"`
}

func (api *RentalAPI) SetLimits(w http.ResponseWriter, r *http.Request) {
	var req limitsRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.MaxRentDuration != nil {
		if err := api.ledger.SetMaxRentDuration(api.admin, *req.MaxRentDuration); err != nil {
			api.fail(w, err)
			return
		}
	}
	if req.MaxOfferItems != nil {
		if err := api.ledger.SetMaxOfferItems(api.admin, *req.MaxOfferItems); err != nil {
			api.fail(w, err)
			return
		}
	}
	if req.MaxConsiderationItems != nil {
		if err := api.ledger.SetMaxConsiderationItems(api.admin, *req.MaxConsiderationItems); err != nil {
			api.fail(w, err)
			return
		}
	}
	api.logger.Info("protocol limits updated")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Helpers ---

func (api *RentalAPI) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, rental.ErrUnauthorized) || errors.Is(err, nativecommon.ErrPauseUnauthorized) {
		status = http.StatusForbidden
	}
	api.logger.Error("request failed", "error", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeBody(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

// parseAddr accepts either a 0x-prefixed 20-byte hex string or a bech32
// protocol address.
func parseAddr(raw string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return out, errors.New("address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return out, errors.New("invalid hex address")
		}
		if len(decoded) != 20 {
			return out, errors.New("address must be 20 bytes")
		}
		copy(out[:], decoded)
		return out, nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func parseHash(raw string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, errors.New("invalid hex hash")
	}
	if len(decoded) != 32 {
		return out, errors.New("hash must be 32 bytes")
	}
	copy(out[:], decoded)
	return out, nil
}
