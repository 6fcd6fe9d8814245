package rpc

import (
	"bytes"
	"encoding/json"

	"paymebridge/payme"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20
)

// Provider method names.
const (
	MethodCheckPerformTransaction = "CheckPerformTransaction"
	MethodCreateTransaction       = "CreateTransaction"
	MethodPerformTransaction      = "PerformTransaction"
	MethodCancelTransaction       = "CancelTransaction"
	MethodCheckTransaction        = "CheckTransaction"
	MethodGetStatement            = "GetStatement"
)

// Request is the inbound JSON-RPC envelope. ID is kept raw so it can be
// echoed back exactly.
type Request struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func newResult(id json.RawMessage, result interface{}) *Response {
	return &Response{JSONRPC: jsonRPCVersion, ID: normalizeID(id), Result: result}
}

func newFailure(id json.RawMessage, perr *payme.Error) *Response {
	if perr == nil {
		perr = payme.SystemError()
	}
	return &Response{
		JSONRPC: jsonRPCVersion,
		ID:      normalizeID(id),
		Error:   &Error{Code: perr.Code(), Message: perr.Message, Data: perr.Data},
	}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(id)) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// envelope is the lenient first-pass decode used to recover the id even when
// the rest of the request is malformed.
type envelope struct {
	ID     json.RawMessage `json:"id"`
	Method json.RawMessage `json:"method"`
	Params json.RawMessage `json:"params"`
}

// ParseRequest decodes body. When the body is a JSON object the returned
// request carries its id even if the error is non-nil.
func ParseRequest(body []byte) (*Request, *payme.Error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &Request{}, payme.NewError(payme.KindInvalidRequest, "Invalid request (malformed JSON)")
	}
	req := &Request{JSONRPC: jsonRPCVersion, ID: env.ID, Params: env.Params}
	if isNull(env.Method) {
		return req, payme.NewError(payme.KindInvalidRequest, "Invalid request (no method)")
	}
	if err := json.Unmarshal(env.Method, &req.Method); err != nil || req.Method == "" {
		return req, payme.NewError(payme.KindInvalidRequest, "Invalid request (no method)")
	}
	return req, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
