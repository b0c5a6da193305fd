package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/auth"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/calc"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/config"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/onchain"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/repository"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/service"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/store"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ws"
	"go.uber.org/zap"
)

// CallerHeader names the account a request acts for. Requests carrying it
// must also be signed by that account.
const CallerHeader = auth.HeaderAddress

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
	RecordLedgerFailure(ctx context.Context, op, reason string)
}

// Simulator drives the in-process chain. Only wired in dev.
type Simulator interface {
	SetPrice(ctx context.Context, price *big.Int) error
	Fund(ctx context.Context, account common.Address, stable, dollar, governance *big.Int) error
}

type Handler struct {
	vault   *service.VaultService
	wsHub   *ws.Hub
	cache   *store.Cache
	sim     Simulator
	config  *config.Config
	logger  *zap.SugaredLogger
	metrics MetricsInterface
}

func NewHandler(
	vault *service.VaultService,
	wsHub *ws.Hub,
	cache *store.Cache,
	sim Simulator,
	config *config.Config,
	logger *zap.SugaredLogger,
	metrics MetricsInterface,
) *Handler {
	return &Handler{
		vault:   vault,
		wsHub:   wsHub,
		cache:   cache,
		sim:     sim,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

func (h *Handler) stableDecimals() uint8 {
	return h.vault.Assets().StableDecimals
}

// Vault endpoints
func (h *Handler) GetVault(w http.ResponseWriter, r *http.Request) {
	overview, err := h.vault.Overview(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "vault", err)
		return
	}
	h.writeJSON(w, http.StatusOK, vaultDTO(overview))
}

func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	account, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	pos, err := h.vault.Position(r.Context(), account)
	if err != nil {
		h.writeLedgerError(w, r, "position", err)
		return
	}
	h.writeJSON(w, http.StatusOK, positionDTO(account.Hex(), pos, h.stableDecimals()))
}

func (h *Handler) GetPending(w http.ResponseWriter, r *http.Request) {
	account, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	pending, err := h.vault.Pending(r.Context(), account)
	if err != nil {
		h.writeLedgerError(w, r, "pending", err)
		return
	}
	h.writeJSON(w, http.StatusOK, pendingDTO(account.Hex(), pending, h.stableDecimals()))
}

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	account, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	snap, err := h.vault.LatestSnapshot(r.Context(), account)
	if errors.Is(err, repository.ErrNoSnapshot) {
		h.writeError(w, http.StatusNotFound, "NO_SNAPSHOT", "no position history for address")
		return
	}
	if err != nil {
		h.writeLedgerError(w, r, "snapshot", err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshotDTO(snap, h.stableDecimals()))
}

func (h *Handler) GetQuoteDeposit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	principal, dollarStake, governanceStake, err := parseDepositAmounts(q.Get("principal"), q.Get("dollarStake"), q.Get("governanceStake"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
		return
	}
	quote, err := h.vault.Quote(r.Context(), principal, dollarStake, governanceStake)
	if err != nil {
		h.writeLedgerError(w, r, "quote", err)
		return
	}
	d := h.stableDecimals()
	h.writeJSON(w, http.StatusOK, QuoteDTO{
		FeeRateBps:   quote.FeeRateBps,
		Fee:          amount(quote.Fee, d),
		NetPrincipal: amount(quote.NetPrincipal, d),
		BonusRateBps: quote.BonusRateBps,
	})
}

// Position mutations
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req DepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal, dollarStake, governanceStake, err := parseDepositAmounts(req.Principal, req.DollarStake, req.GovernanceStake)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
		return
	}

	pos, err := h.vault.Deposit(r.Context(), caller, principal, dollarStake, governanceStake)
	if err != nil {
		h.writeLedgerError(w, r, "deposit", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, positionDTO(caller.Hex(), pos, h.stableDecimals()))
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	settlement, err := h.vault.WithdrawAll(r.Context(), caller)
	d := h.stableDecimals()
	if errors.Is(err, ledger.ErrSettlementIncomplete) {
		// The position is closed; what could not be paid is now pending.
		h.metrics.RecordLedgerFailure(r.Context(), "withdraw", "SETTLEMENT_INCOMPLETE")
		resp := WithdrawDTO{Settlement: settlementDTO(settlement, d), Message: err.Error()}
		if pending, perr := h.vault.Pending(r.Context(), caller); perr == nil {
			dto := pendingDTO(caller.Hex(), pending, d)
			resp.Pending = &dto
		} else {
			h.logger.Warnw("Failed to load pending payout", "account", caller.Hex(), "error", perr)
		}
		h.writeJSON(w, http.StatusAccepted, resp)
		return
	}
	if err != nil {
		h.writeLedgerError(w, r, "withdraw", err)
		return
	}
	resp := WithdrawDTO{Settlement: settlementDTO(settlement, d)}
	if settlement.Shortfall != nil && settlement.Shortfall.Sign() > 0 {
		if pending, perr := h.vault.Pending(r.Context(), caller); perr == nil {
			dto := pendingDTO(caller.Hex(), pending, d)
			resp.Pending = &dto
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	paid, err := h.vault.SettlePending(r.Context(), caller)
	if err != nil {
		h.writeLedgerError(w, r, "settle", err)
		return
	}
	h.writeJSON(w, http.StatusOK, pendingDTO(caller.Hex(), paid, h.stableDecimals()))
}

func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	account, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, next, err := h.vault.Events(r.Context(), account, limit, r.URL.Query().Get("cursor"))
	if errors.Is(err, repository.ErrInvalidCursor) {
		h.writeError(w, http.StatusBadRequest, "INVALID_CURSOR", err.Error())
		return
	}
	if err != nil {
		h.writeLedgerError(w, r, "events", err)
		return
	}

	dto := EventsDTO{Events: make([]EventDTO, len(events)), NextCursor: next}
	for i, ev := range events {
		dto.Events[i] = EventDTO{
			ID:        ev.ID.String(),
			Type:      string(ev.Type),
			Account:   ev.Account.Hex(),
			Timestamp: ev.Timestamp.Unix(),
			Fields:    ev.Fields,
		}
	}
	h.writeJSON(w, http.StatusOK, dto)
}

// Admin endpoints. The caller must be the configured admin; the ledger
// enforces it.
func (h *Handler) SetFeeRateCap(w http.ResponseWriter, r *http.Request) {
	var req FeeRateCapRequest
	h.admin(w, r, "setFeeRateCap", &req, func(ctx context.Context, caller common.Address, l service.Ledger) error {
		return l.SetFeeRateCap(ctx, caller, req.Bps)
	})
}

func (h *Handler) SetStakeCap(w http.ResponseWriter, r *http.Request) {
	var req StakeCapRequest
	h.admin(w, r, "setStakeCap", &req, func(ctx context.Context, caller common.Address, l service.Ledger) error {
		capAmount, err := parseRequiredAmount(req.Amount, "amount")
		if err != nil {
			return err
		}
		return l.SetStakeCapForZeroFee(ctx, caller, capAmount)
	})
}

func (h *Handler) SetVault(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	h.admin(w, r, "setVault", &req, func(ctx context.Context, caller common.Address, l service.Ledger) error {
		addr, err := parseAddress(req.Address)
		if err != nil {
			return err
		}
		return l.SetVaultAddress(ctx, caller, addr)
	})
}

func (h *Handler) SetAdmin(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	h.admin(w, r, "setAdmin", &req, func(ctx context.Context, caller common.Address, l service.Ledger) error {
		addr, err := parseAddress(req.Address)
		if err != nil {
			return err
		}
		return l.SetAdmin(ctx, caller, addr)
	})
}

func (h *Handler) RegisterProtocolToken(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	h.admin(w, r, "registerProtocolToken", &req, func(ctx context.Context, caller common.Address, l service.Ledger) error {
		token, err := parseAddress(req.Address)
		if err != nil {
			return err
		}
		return l.RegisterProtocolToken(ctx, caller, token)
	})
}

func (h *Handler) DeregisterProtocolToken(w http.ResponseWriter, r *http.Request) {
	token, ok := h.addressParam(w, r, "token")
	if !ok {
		return
	}
	h.admin(w, r, "deregisterProtocolToken", nil, func(ctx context.Context, caller common.Address, l service.Ledger) error {
		return l.DeregisterProtocolToken(ctx, caller, token)
	})
}

func (h *Handler) SweepDust(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	h.admin(w, r, "sweepDust", &req, func(ctx context.Context, caller common.Address, l service.Ledger) error {
		token, err := parseAddress(req.Token)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		to, err := parseAddress(req.To)
		if err != nil {
			return fmt.Errorf("to: %w", err)
		}
		value, err := parseRequiredAmount(req.Amount, "amount")
		if err != nil {
			return err
		}
		return l.SweepDust(ctx, caller, to, token, value)
	})
}

// admin decodes body (when non-nil) and runs op as the request's caller.
func (h *Handler) admin(w http.ResponseWriter, r *http.Request, op string, body any, fn func(ctx context.Context, caller common.Address, l service.Ledger) error) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if body != nil && !h.decode(w, r, body) {
		return
	}
	err := h.vault.Admin(r.Context(), func(ctx context.Context, l service.Ledger) error {
		return fn(ctx, caller, l)
	})
	if err != nil {
		h.writeLedgerError(w, r, op, err)
		return
	}
	h.logger.Infow("Admin operation applied", "op", op, "caller", caller.Hex())

	overview, err := h.vault.Overview(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "vault", err)
		return
	}
	h.writeJSON(w, http.StatusOK, vaultDTO(overview))
}

// SetSimPrice moves the simulated vault's price per share (dev only).
func (h *Handler) SetSimPrice(w http.ResponseWriter, r *http.Request) {
	if h.sim == nil {
		h.writeError(w, http.StatusNotFound, "NOT_AVAILABLE", "price simulation is only available in dev")
		return
	}
	var req SimPriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	price, err := parseRequiredAmount(req.PricePerShare, "pricePerShare")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
		return
	}
	if err := h.sim.SetPrice(r.Context(), price); err != nil {
		h.writeLedgerError(w, r, "simPrice", err)
		return
	}
	h.logger.Infow("Simulated price per share updated", "price", price.String())
	h.writeJSON(w, http.StatusOK, map[string]AmountDTO{"pricePerShare": amount(price, calc.WadDecimals)})
}

// Faucet mints test balances to the caller and approves the proxy (dev only).
func (h *Handler) Faucet(w http.ResponseWriter, r *http.Request) {
	if h.sim == nil {
		h.writeError(w, http.StatusNotFound, "NOT_AVAILABLE", "faucet is only available in dev")
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req DepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	var amounts [3]*big.Int
	for i, raw := range []string{req.Principal, req.DollarStake, req.GovernanceStake} {
		v, err := calc.ParseAmount(raw, "amount")
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
			return
		}
		amounts[i] = v
	}
	stable, dollar, governance := amounts[0], amounts[1], amounts[2]
	if err := h.sim.Fund(r.Context(), caller, stable, dollar, governance); err != nil {
		h.writeLedgerError(w, r, "faucet", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "funded", "address": caller.Hex()})
}

// Health endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz checks the cache and that the ledger can serve the vault overview.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", err.Error())
			return
		}
	}
	if _, err := h.vault.Overview(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

// Request helpers

// caller is the account that signed the request.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := r.Context().Value(callerKey{}).(common.Address)
	if !ok || addr == (common.Address{}) {
		h.writeError(w, http.StatusUnauthorized, "MISSING_CALLER", "a request signed by "+CallerHeader+" is required")
		return common.Address{}, false
	}
	return addr, true
}

func (h *Handler) addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	addr, err := parseAddress(chi.URLParam(r, name))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
		return common.Address{}, false
	}
	return addr, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return false
	}
	return true
}

var errBadInput = errors.New("invalid input")

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not a hex address", errBadInput, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", errBadInput)
	}
	return addr, nil
}

func parseRequiredAmount(s, field string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: %s is required", errBadInput, field)
	}
	v, err := calc.ParseAmount(s, field)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadInput, err)
	}
	return v, nil
}

// parseDepositAmounts reads the three deposit amounts; absent stakes are zero.
func parseDepositAmounts(principal, dollarStake, governanceStake string) (*big.Int, *big.Int, *big.Int, error) {
	p, err := parseRequiredAmount(principal, "principal")
	if err != nil {
		return nil, nil, nil, err
	}
	d, err := calc.ParseAmount(dollarStake, "dollarStake")
	if err != nil {
		return nil, nil, nil, err
	}
	g, err := calc.ParseAmount(governanceStake, "governanceStake")
	if err != nil {
		return nil, nil, nil, err
	}
	return p, d, g, nil
}

// errorMapping is checked in order; wrapped sentinels come before their base.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{errBadInput, http.StatusBadRequest, "INVALID_REQUEST"},
	{ledger.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED"},
	{ledger.ErrNoOpenPosition, http.StatusNotFound, "NO_OPEN_POSITION"},
	{ledger.ErrZeroAmount, http.StatusBadRequest, "ZERO_AMOUNT"},
	{ledger.ErrNegativeAmount, http.StatusBadRequest, "NEGATIVE_AMOUNT"},
	{ledger.ErrPositionAlreadyOpen, http.StatusConflict, "POSITION_ALREADY_OPEN"},
	{ledger.ErrInvalidVault, http.StatusBadRequest, "INVALID_VAULT"},
	{ledger.ErrVaultInUse, http.StatusConflict, "VAULT_IN_USE"},
	{ledger.ErrExceedsHardCap, http.StatusBadRequest, "EXCEEDS_HARD_CAP"},
	{ledger.ErrInvalidFeeRate, http.StatusBadRequest, "INVALID_FEE_RATE"},
	{ledger.ErrZeroAddress, http.StatusBadRequest, "ZERO_ADDRESS"},
	{ledger.ErrAlreadyRegistered, http.StatusConflict, "ALREADY_REGISTERED"},
	{ledger.ErrNotRegistered, http.StatusNotFound, "NOT_REGISTERED"},
	{ledger.ErrProtocolToken, http.StatusBadRequest, "PROTOCOL_TOKEN"},
	{ledger.ErrInsufficientReserves, http.StatusConflict, "INSUFFICIENT_RESERVES"},
	{ledger.ErrSettlementIncomplete, http.StatusAccepted, "SETTLEMENT_INCOMPLETE"},
	{ledger.ErrNothingPending, http.StatusNotFound, "NOTHING_PENDING"},
	{ledger.ErrNotInitialized, http.StatusServiceUnavailable, "NOT_INITIALIZED"},
	{onchain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"},
	{onchain.ErrInsufficientAllowance, http.StatusUnprocessableEntity, "INSUFFICIENT_ALLOWANCE"},
	{onchain.ErrZeroPrice, http.StatusBadRequest, "INVALID_PRICE"},
}

func classify(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := classify(err)
	h.metrics.RecordLedgerFailure(r.Context(), op, code)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("Ledger operation failed", "op", op, "error", err)
	}
	h.writeError(w, status, code, err.Error())
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}
