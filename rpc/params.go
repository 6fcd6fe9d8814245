package rpc

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"paymebridge/payme"
)

// params is the decoded "params" object. Values stay raw until a method asks
// for them.
type params map[string]json.RawMessage

// decodeParams requires a non-empty JSON object; an empty one is rejected
// before the method is resolved.
func decodeParams(raw json.RawMessage) (params, *payme.Error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, payme.NewError(payme.KindInvalidParams, "Invalid params")
	}
	var p params
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, payme.NewError(payme.KindInvalidParams, "Invalid params")
	}
	if len(p) == 0 {
		return nil, payme.NewError(payme.KindInvalidParams, "Invalid params")
	}
	return p, nil
}

// payment returns the nested "payment" object used by some provider
// integrations, or nil.
func (p params) payment() params {
	raw, ok := p["payment"]
	if !ok || isNull(raw) {
		return nil
	}
	var nested params
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil
	}
	return nested
}

// transactionID resolves id, then transaction, then payment.id.
func (p params) transactionID() string {
	if id := scalarString(p["id"]); id != "" {
		return id
	}
	if id := scalarString(p["transaction"]); id != "" {
		return id
	}
	if nested := p.payment(); nested != nil {
		return scalarString(nested["id"])
	}
	return ""
}

// amount resolves amount, then payment.amount. Values that cannot be read as
// an integer count as missing.
func (p params) amount() *int64 {
	raw, ok := p["amount"]
	if !ok || isNull(raw) {
		if nested := p.payment(); nested != nil {
			raw = nested["amount"]
		}
	}
	if isNull(raw) {
		return nil
	}
	value, ok := parseInteger(raw)
	if !ok {
		return nil
	}
	return &value
}

// optionalInt reads key as an integer. present is false when the key is absent
// or null; ok is false when it is present but not an integer.
func (p params) optionalInt(key string) (value int64, present bool, ok bool) {
	raw, exists := p[key]
	if !exists || isNull(raw) {
		return 0, false, true
	}
	value, ok = parseInteger(raw)
	return value, true, ok
}

func scalarString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// parseInteger accepts JSON integers, floats (truncated toward zero) and
// decimal integer strings.
func parseInteger(raw json.RawMessage) (int64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0, false
		}
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return 0, false
	}
	if v, err := n.Int64(); err == nil {
		return v, true
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func (p params) checkPerform() (payme.CheckPerformRequest, *payme.Error) {
	return payme.CheckPerformRequest{Amount: p.amount(), Account: p["account"]}, nil
}

func (p params) create() (payme.CreateRequest, *payme.Error) {
	return payme.CreateRequest{ID: p.transactionID(), Amount: p.amount(), Account: p["account"]}, nil
}

func (p params) perform() (payme.PerformRequest, *payme.Error) {
	return payme.PerformRequest{ID: p.transactionID()}, nil
}

func (p params) cancel() (payme.CancelRequest, *payme.Error) {
	req := payme.CancelRequest{ID: p.transactionID()}
	value, present, ok := p.optionalInt("reason")
	if !ok {
		return req, payme.NewError(payme.KindInvalidParams, "Invalid reason")
	}
	if present {
		if value < math.MinInt32 || value > math.MaxInt32 {
			return req, payme.NewError(payme.KindInvalidParams, "Invalid reason")
		}
		reason := int(value)
		req.Reason = &reason
	}
	return req, nil
}

func (p params) check() (payme.CheckRequest, *payme.Error) {
	return payme.CheckRequest{ID: p.transactionID()}, nil
}

func (p params) statement() (payme.StatementRequest, *payme.Error) {
	var req payme.StatementRequest
	for key, dst := range map[string]**int64{"from": &req.From, "to": &req.To} {
		value, present, ok := p.optionalInt(key)
		if !ok {
			return req, payme.NewError(payme.KindInvalidParams, "Invalid %s", key)
		}
		if present {
			v := value
			*dst = &v
		}
	}
	return req, nil
}
