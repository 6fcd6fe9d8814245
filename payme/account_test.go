package payme

import (
	"encoding/json"
	"testing"
)

func TestNormalizeAccount(t *testing.T) {
	account, perr := NormalizeAccount(json.RawMessage(`{"order_id": 42, "phone": "998901234567", "vip": true}`))
	if perr != nil {
		t.Fatalf("normalize: %v", perr)
	}
	want := Account{"order_id": "42", "phone": "998901234567", "vip": "true"}
	if !account.Equal(want) {
		t.Fatalf("account = %v, want %v", account, want)
	}
}

func TestNormalizeAccountRejectsBadShapes(t *testing.T) {
	for _, raw := range []string{``, `null`, `[]`, `"order"`, `12`, `{}`, `{"a":null}`, `{"a":{"b":"c"}}`, `{"a":[1]}`, `{"a":`} {
		if _, perr := NormalizeAccount(json.RawMessage(raw)); perr == nil || perr.Kind != KindInvalidAccount {
			t.Fatalf("expected InvalidAccount for %q, got %v", raw, perr)
		}
	}
}

func TestAccountEqualityIsExact(t *testing.T) {
	a := Account{"order": "o1"}
	if !a.Equal(Account{"order": "o1"}) {
		t.Fatalf("identical accounts must be equal")
	}
	if a.Equal(Account{"order": "o1", "extra": "x"}) {
		t.Fatalf("superset must not match")
	}
	if a.Equal(Account{"order": "O1"}) {
		t.Fatalf("comparison is case-sensitive")
	}
}

func TestAccountMarshalNil(t *testing.T) {
	var a Account
	encoded, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(encoded) != `{}` {
		t.Fatalf("nil account JSON = %s", encoded)
	}
}

func TestRecordAccount(t *testing.T) {
	cases := map[string]Account{
		``:                       {},
		`null`:                   {},
		`["o1"]`:                 {},
		`{}`:                     {},
		`{"order":"o1","n":7}`:   {"order": "o1", "n": "7"},
		`{"a":[1, 2],"b":false}`: {"a": "[1,2]", "b": "false"},
	}
	for raw, want := range cases {
		if got := RecordAccount(json.RawMessage(raw)); !got.Equal(want) {
			t.Fatalf("RecordAccount(%q) = %v, want %v", raw, got, want)
		}
	}
}
