package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// HandleJSONRPC handles JSON-RPC 2.0 requests for the read-only ledger views.
func (h *Handler) HandleJSONRPC(w http.ResponseWriter, r *http.Request) {
	// Parse JSON-RPC request
	var req JSONRPCRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		h.sendJSONRPCError(w, nil, JSONRPCParseError, "Parse error", err.Error())
		return
	}

	// Validate JSON-RPC version
	if req.JSONRPC != "2.0" {
		h.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "Invalid Request", "jsonrpc must be '2.0'")
		return
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case MethodGetVault:
		result, err = h.rpcGetVault(r)
	case MethodGetPosition:
		result, err = h.rpcGetPosition(r, req.Params)
	case MethodGetPending:
		result, err = h.rpcGetPending(r, req.Params)
	case MethodQuoteDeposit:
		result, err = h.rpcQuoteDeposit(r, req.Params)
	default:
		h.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "Method not found", fmt.Sprintf("Method '%s' not found", req.Method))
		return
	}

	if err != nil {
		h.sendRPCFailure(w, r, req, err)
		return
	}
	h.writeJSON(w, http.StatusOK, JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

// rpcParamsError marks a failure to decode or validate params.
type rpcParamsError struct{ err error }

func (e rpcParamsError) Error() string { return e.err.Error() }

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return rpcParamsError{fmt.Errorf("params are required")}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return rpcParamsError{err}
	}
	return nil
}

func (h *Handler) rpcGetVault(r *http.Request) (any, error) {
	overview, err := h.vault.Overview(r.Context())
	if err != nil {
		return nil, err
	}
	return vaultDTO(overview), nil
}

func (h *Handler) rpcGetPosition(r *http.Request, raw json.RawMessage) (any, error) {
	var p AddressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, err := parseAddress(p.Address)
	if err != nil {
		return nil, rpcParamsError{err}
	}
	pos, err := h.vault.Position(r.Context(), account)
	if err != nil {
		return nil, err
	}
	return positionDTO(account.Hex(), pos, h.stableDecimals()), nil
}

func (h *Handler) rpcGetPending(r *http.Request, raw json.RawMessage) (any, error) {
	var p AddressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, err := parseAddress(p.Address)
	if err != nil {
		return nil, rpcParamsError{err}
	}
	pending, err := h.vault.Pending(r.Context(), account)
	if err != nil {
		return nil, err
	}
	return pendingDTO(account.Hex(), pending, h.stableDecimals()), nil
}

func (h *Handler) rpcQuoteDeposit(r *http.Request, raw json.RawMessage) (any, error) {
	var p DepositRequest
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	principal, dollarStake, governanceStake, err := parseDepositAmounts(p.Principal, p.DollarStake, p.GovernanceStake)
	if err != nil {
		return nil, rpcParamsError{err}
	}
	quote, err := h.vault.Quote(r.Context(), principal, dollarStake, governanceStake)
	if err != nil {
		return nil, err
	}
	d := h.stableDecimals()
	return QuoteDTO{
		FeeRateBps:   quote.FeeRateBps,
		Fee:          amount(quote.Fee, d),
		NetPrincipal: amount(quote.NetPrincipal, d),
		BonusRateBps: quote.BonusRateBps,
	}, nil
}

func (h *Handler) sendRPCFailure(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, err error) {
	if _, ok := err.(rpcParamsError); ok {
		h.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "Invalid params", err.Error())
		return
	}
	status, code := classify(err)
	h.metrics.RecordLedgerFailure(r.Context(), req.Method, code)
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("JSON-RPC call failed", "method", req.Method, "error", err)
		h.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "Internal error", code)
		return
	}
	h.sendJSONRPCError(w, req.ID, JSONRPCLedgerError, err.Error(), code)
}

func (h *Handler) sendJSONRPCError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	// JSON-RPC errors are sent with HTTP 200
	h.writeJSON(w, http.StatusOK, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
