package api

import "encoding/json"

// JSON-RPC 2.0 request structure
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSON-RPC 2.0 response structure
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSON-RPC 2.0 error structure
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Read-only methods served over JSON-RPC.
const (
	MethodGetVault     = "yp_getVault"
	MethodGetPosition  = "yp_getPosition"
	MethodGetPending   = "yp_getPending"
	MethodQuoteDeposit = "yp_quoteDeposit"
)

// AddressParams is used by yp_getPosition and yp_getPending.
type AddressParams struct {
	Address string `json:"address"`
}

// JSON-RPC error codes (following standard)
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603

	// Implementation-defined range: a ledger rule rejected the call.
	JSONRPCLedgerError = -32000
)
