package payme

import (
	"bytes"
	"encoding/json"
	"maps"
	"strconv"
)

// Account is the opaque business identifier attached to a purchase, e.g.
// {"order_id": "42"}. Values are normalised to strings on entry.
type Account map[string]string

// Equal reports exact key/value equality.
func (a Account) Equal(other Account) bool {
	return maps.Equal(a, other)
}

func (a Account) Clone() Account {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// MarshalJSON renders a nil account as an empty object.
func (a Account) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(a))
}

// AccountValidator checks and normalises the raw account parameter.
type AccountValidator interface {
	ValidateAccount(raw json.RawMessage) (Account, *Error)
}

// ShapeValidator accepts any non-empty object whose values are strings,
// numbers or booleans. Business meaning of the fields is not inspected.
type ShapeValidator struct{}

func (ShapeValidator) ValidateAccount(raw json.RawMessage) (Account, *Error) {
	return NormalizeAccount(raw)
}

// NormalizeAccount parses raw into an Account. Numbers keep their JSON text
// and booleans become "true"/"false"; null, arrays and nested objects are
// rejected.
func NormalizeAccount(raw json.RawMessage) (Account, *Error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || trimmed[0] != '{' {
		return nil, invalidAccount()
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var fields map[string]interface{}
	if err := decoder.Decode(&fields); err != nil {
		return nil, invalidAccount()
	}
	if len(fields) == 0 {
		return nil, invalidAccount()
	}
	account := make(Account, len(fields))
	for key, value := range fields {
		switch v := value.(type) {
		case string:
			account[key] = v
		case json.Number:
			account[key] = v.String()
		case bool:
			account[key] = strconv.FormatBool(v)
		default:
			return nil, invalidAccount()
		}
	}
	return account, nil
}

// RecordAccount normalises the account stored with a new transaction. Unlike
// NormalizeAccount it never fails: an absent, null or non-object account is
// stored as an empty one, and nested objects, arrays and null values keep
// their compact JSON text.
func RecordAccount(raw json.RawMessage) Account {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Account{}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Account{}
	}
	account := make(Account, len(fields))
	for key, value := range fields {
		account[key] = scalarText(value)
	}
	return account
}

func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(bytes.TrimSpace(raw))
	}
	return compact.String()
}

func invalidAccount() *Error {
	return NewError(KindInvalidAccount, "Invalid account parameters")
}
