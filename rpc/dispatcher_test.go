package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"paymebridge/payme"
)

type captureSink struct {
	mu       sync.Mutex
	topics   []string
	payloads []map[string]interface{}
	err      error
}

func (s *captureSink) Enqueue(topic string, payload map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.topics = append(s.topics, topic)
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *captureSink) statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.payloads))
	for _, p := range s.payloads {
		status, _ := p["status"].(string)
		out = append(out, status)
	}
	return out
}

func testClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *captureSink) {
	t.Helper()
	machine := payme.NewMachine(payme.NewMemoryStore(), payme.WithClock(testClock()))
	sink := &captureSink{}
	return NewDispatcher(machine, sink, "payments/m1", nil), sink
}

func call(t *testing.T, d *Dispatcher, body string) map[string]interface{} {
	t.Helper()
	req, perr := ParseRequest([]byte(body))
	if perr != nil {
		t.Fatalf("parse %s: %v", body, perr)
	}
	resp := d.Dispatch(context.Background(), req)
	encoded, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded
}

func resultOf(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	if resp["error"] != nil {
		t.Fatalf("unexpected error response: %v", resp["error"])
	}
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing result in %v", resp)
	}
	return result
}

func errorCode(t *testing.T, resp map[string]interface{}) int {
	t.Helper()
	obj, ok := resp["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error response, got %v", resp)
	}
	return int(obj["code"].(float64))
}

func TestDispatchLifecycleEmitsEvents(t *testing.T) {
	d, sink := newTestDispatcher(t)

	created := resultOf(t, call(t, d, `{"id":1,"method":"CreateTransaction","params":{"id":"t1","amount":1000000,"account":{"order":"o1"}}}`))
	if created["state"] != float64(1) || created["transaction"] != "t1" {
		t.Fatalf("unexpected create result %v", created)
	}
	performed := resultOf(t, call(t, d, `{"id":2,"method":"PerformTransaction","params":{"id":"t1"}}`))
	if performed["state"] != float64(2) {
		t.Fatalf("unexpected perform result %v", performed)
	}
	if v, present := performed["receivers"]; !present || v != nil {
		t.Fatalf("expected receivers:null, got %v", performed)
	}
	cancelled := resultOf(t, call(t, d, `{"id":3,"method":"CancelTransaction","params":{"id":"t1","reason":5}}`))
	if cancelled["state"] != float64(-2) {
		t.Fatalf("unexpected cancel result %v", cancelled)
	}
	if performed["perform_time"].(float64) < created["create_time"].(float64) ||
		cancelled["cancel_time"].(float64) < performed["perform_time"].(float64) {
		t.Fatalf("timestamps not monotonic: %v %v %v", created, performed, cancelled)
	}

	want := []string{"created", "confirmed", "cancelled"}
	got := sink.statuses()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
		if sink.topics[i] != "payments/m1" {
			t.Fatalf("unexpected topic %q", sink.topics[i])
		}
	}
	if sink.payloads[2]["reason"] != 5 {
		t.Fatalf("cancel event reason = %v", sink.payloads[2]["reason"])
	}

	statement := resultOf(t, call(t, d, `{"id":4,"method":"GetStatement","params":{"from":0,"to":9999999999999}}`))
	txs := statement["transactions"].([]interface{})
	if len(txs) != 1 {
		t.Fatalf("expected one statement entry, got %v", txs)
	}
}

func TestDispatchReplayDoesNotRepublish(t *testing.T) {
	d, sink := newTestDispatcher(t)
	body := `{"id":1,"method":"CreateTransaction","params":{"id":"t1","amount":"20000","account":{"order":"o1"}}}`
	first := resultOf(t, call(t, d, body))
	second := resultOf(t, call(t, d, body))
	if first["create_time"] != second["create_time"] {
		t.Fatalf("replay changed create_time: %v vs %v", first, second)
	}
	call(t, d, `{"id":2,"method":"PerformTransaction","params":{"id":"t1"}}`)
	call(t, d, `{"id":3,"method":"PerformTransaction","params":{"id":"t1"}}`)
	if got := sink.statuses(); len(got) != 2 {
		t.Fatalf("expected one event per transition, got %v", got)
	}
}

func TestDispatchErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		code int
	}{
		{"unknown method", `{"id":1,"method":"Refund","params":{"id":"t1"}}`, payme.CodeMethodNotFound},
		{"params empty", `{"id":1,"method":"GetStatement","params":{}}`, payme.CodeInvalidParams},
		{"params empty before method lookup", `{"id":1,"method":"Refund","params":{}}`, payme.CodeInvalidParams},
		{"params missing", `{"id":1,"method":"CheckTransaction"}`, payme.CodeInvalidParams},
		{"params array", `{"id":1,"method":"CheckTransaction","params":[1]}`, payme.CodeInvalidParams},
		{"params null", `{"id":1,"method":"CheckTransaction","params":null}`, payme.CodeInvalidParams},
		{"missing id", `{"id":1,"method":"CheckTransaction","params":{"reason":1}}`, payme.CodeInvalidParams},
		{"not found", `{"id":1,"method":"PerformTransaction","params":{"id":"nope"}}`, payme.CodeTransactionNotFound},
		{"below minimum", `{"id":1,"method":"CheckPerformTransaction","params":{"amount":9999,"account":{"order":"o1"}}}`, payme.CodeInvalidAmount},
		{"bad account", `{"id":1,"method":"CheckPerformTransaction","params":{"amount":10000,"account":"o1"}}`, payme.CodeInvalidAccount},
		{"amount unreadable", `{"id":1,"method":"CheckPerformTransaction","params":{"amount":"abc","account":{"order":"o1"}}}`, payme.CodeInvalidParams},
		{"bad reason", `{"id":1,"method":"CancelTransaction","params":{"id":"t1","reason":"x"}}`, payme.CodeInvalidParams},
		{"bad range", `{"id":1,"method":"GetStatement","params":{"from":"yesterday"}}`, payme.CodeInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, sink := newTestDispatcher(t)
			resp := call(t, d, tc.body)
			if got := errorCode(t, resp); got != tc.code {
				t.Fatalf("expected code %d, got %d (%v)", tc.code, got, resp)
			}
			if resp["id"] != float64(1) {
				t.Fatalf("request id not echoed: %v", resp["id"])
			}
			if len(sink.statuses()) != 0 {
				t.Fatalf("failed call published events")
			}
		})
	}
}

func TestDispatchParamAliases(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resultOf(t, call(t, d, `{"id":1,"method":"CreateTransaction","params":{"payment":{"id":"p1","amount":15000.9},"account":{"order":"o1"}}}`))

	check := resultOf(t, call(t, d, `{"id":2,"method":"CheckTransaction","params":{"transaction":"p1"}}`))
	if check["transaction"] != "p1" || check["state"] != float64(1) {
		t.Fatalf("unexpected check result %v", check)
	}
	statement := resultOf(t, call(t, d, `{"id":3,"method":"GetStatement","params":{"from":0}}`))
	entry := statement["transactions"].([]interface{})[0].(map[string]interface{})
	if entry["amount"] != float64(15000) {
		t.Fatalf("float amount not truncated: %v", entry["amount"])
	}
}

type failingMachine struct {
	Machine
}

func (f *failingMachine) CheckTransaction(context.Context, payme.CheckRequest) (*payme.Snapshot, error) {
	return nil, errors.New("disk on fire")
}

func (f *failingMachine) PerformTransaction(context.Context, payme.PerformRequest) (*payme.PerformResult, []payme.Event, error) {
	panic("unexpected nil")
}

func TestDispatchHidesInternalFaults(t *testing.T) {
	d := NewDispatcher(&failingMachine{}, nil, "payments/m1", nil)

	resp := call(t, d, `{"id":"abc","method":"CheckTransaction","params":{"id":"t1"}}`)
	if got := errorCode(t, resp); got != payme.CodeSystemError {
		t.Fatalf("expected system error, got %d", got)
	}
	msg := resp["error"].(map[string]interface{})["message"]
	if msg != "System error" {
		t.Fatalf("internal detail leaked: %v", msg)
	}
	if resp["id"] != "abc" {
		t.Fatalf("request id not echoed: %v", resp["id"])
	}

	resp = call(t, d, `{"id":7,"method":"PerformTransaction","params":{"id":"t1"}}`)
	if got := errorCode(t, resp); got != payme.CodeSystemError {
		t.Fatalf("expected system error after panic, got %d", got)
	}
}

func TestDispatchCreateStoresAnyAccount(t *testing.T) {
	d, sink := newTestDispatcher(t)
	created := resultOf(t, call(t, d, `{"id":1,"method":"CreateTransaction","params":{"id":"t1","amount":1000000}}`))
	if created["transaction"] != "t1" || created["state"] != float64(1) {
		t.Fatalf("unexpected create result %v", created)
	}
	resultOf(t, call(t, d, `{"id":2,"method":"CreateTransaction","params":{"id":"t2","amount":1000000,"account":{"cart":{"sku":"a1"}}}}`))
	if got := sink.statuses(); len(got) != 2 {
		t.Fatalf("expected two created events, got %v", got)
	}
	account, _ := sink.payloads[1]["account"].(payme.Account)
	if account["cart"] != `{"sku":"a1"}` {
		t.Fatalf("nested account value not kept as JSON text: %v", sink.payloads[1]["account"])
	}
}

func TestDispatchSinkFailureKeepsResult(t *testing.T) {
	d, sink := newTestDispatcher(t)
	sink.err = errors.New("closed")
	resultOf(t, call(t, d, `{"id":1,"method":"CreateTransaction","params":{"id":"t1","amount":10000,"account":{"order":"o1"}}}`))
}

func TestParseRequestKeepsID(t *testing.T) {
	req, perr := ParseRequest([]byte(`{"id":42,"params":{}}`))
	if perr == nil || perr.Code() != payme.CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %v", perr)
	}
	if string(req.ID) != "42" {
		t.Fatalf("id not preserved: %s", req.ID)
	}

	req, perr = ParseRequest([]byte(`{"id":`))
	if perr == nil || perr.Code() != payme.CodeInvalidRequest {
		t.Fatalf("expected invalid request for malformed JSON, got %v", perr)
	}
	encoded, _ := json.Marshal(newFailure(req.ID, perr))
	var decoded map[string]interface{}
	_ = json.Unmarshal(encoded, &decoded)
	if v, present := decoded["id"]; !present || v != nil {
		t.Fatalf("expected id:null, got %s", encoded)
	}
}
