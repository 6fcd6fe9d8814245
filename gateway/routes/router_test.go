package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"paymebridge/events"
	"paymebridge/gateway/middleware"
	"paymebridge/orders"
	"paymebridge/payme"
	"paymebridge/rpc"
)

const adminSecret = "router-test-secret"

type fixture struct {
	handler  http.Handler
	recorder *events.Recorder
	queue    *events.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	machine := payme.NewMachine(payme.NewMemoryStore())
	recorder := events.NewRecorder()
	queue := events.NewDispatcher(recorder)
	queue.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = queue.Close(ctx)
	})

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := orders.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	catalog := orders.NewCatalog(db)
	book := orders.NewBook(db, catalog, queue, orders.BookConfig{MerchantID: "m1", Topic: "payments/m1"}, nil)

	topic := events.Topic("", "m1")
	webhook := rpc.NewHandler(
		rpc.NewAuthenticator(rpc.AuthConfig{Key: "Paycom:secret"}, nil),
		rpc.NewDispatcher(machine, queue, topic, nil),
	)
	handler := New(Config{
		MerchantID:     "m1",
		TestMode:       true,
		DebugEndpoints: true,
		Webhook:        webhook,
		Transactions:   machine,
		Queue:          queue,
		Publisher:      PublisherInfo{Driver: "memory", Status: recorder},
		Orders:         book,
		Catalog:        catalog,
		AdminAuth:      middleware.NewAdminAuth(middleware.AdminAuthConfig{HMACSecret: adminSecret}, nil),
		Observability:  middleware.NewObservability(middleware.ObservabilityConfig{MetricsPrefix: "routes_test"}, nil),
	})
	return &fixture{handler: handler, recorder: recorder, queue: queue}
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "ops",
		"scope": middleware.AdminScope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(adminSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + token
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	decoded := map[string]interface{}{}
	if res.Body.Len() > 0 {
		if err := json.Unmarshal(res.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, res.Body.String(), err)
		}
	}
	return res.Code, decoded
}

func TestWebhookRoutesShareHandler(t *testing.T) {
	f := newFixture(t)
	auth := map[string]string{"X-Auth": "secret"}
	body := `{"id":1,"method":"CreateTransaction","params":{"id":"t1","amount":500000,"account":{"order_id":"o1"}}}`

	for _, path := range []string{"/payme", "/payme-mqtt"} {
		status, resp := f.do(t, http.MethodPost, path, body, auth)
		if status != http.StatusOK || resp["result"] == nil {
			t.Fatalf("%s: unexpected response %d %v", path, status, resp)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !f.recorder.Wait(ctx, 1) {
		t.Fatalf("created event not delivered")
	}
	msg := f.recorder.Messages()[0]
	if msg.Topic != "payments/m1" || msg.Payload["status"] != "created" {
		t.Fatalf("unexpected event %+v", msg)
	}
	// The replayed create must not produce a second event.
	time.Sleep(50 * time.Millisecond)
	if n := len(f.recorder.Messages()); n != 1 {
		t.Fatalf("expected exactly one event, got %d", n)
	}
}

func TestHealthAndPublisherStatus(t *testing.T) {
	f := newFixture(t)
	status, resp := f.do(t, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || resp["status"] != "ok" || resp["mode"] != "TEST" {
		t.Fatalf("unexpected health response %d %v", status, resp)
	}
	publisher := resp["publisher"].(map[string]interface{})
	if publisher["driver"] != "memory" || publisher["connected"] != true {
		t.Fatalf("unexpected publisher block %v", publisher)
	}

	_, resp = f.do(t, http.MethodGet, "/status/publisher", "", nil)
	topics := resp["topics"].(map[string]interface{})
	if topics["payments"] != "payments/m1" || topics["control"] != "control/m1" {
		t.Fatalf("unexpected topics %v", topics)
	}
	if _, ok := resp["queue"].(map[string]interface{}); !ok {
		t.Fatalf("queue stats missing: %v", resp)
	}
}

func TestDebugRoutesRequireAdmin(t *testing.T) {
	f := newFixture(t)
	status, _ := f.do(t, http.MethodGet, "/debug/transactions", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}

	f.do(t, http.MethodPost, "/payme", `{"id":1,"method":"CreateTransaction","params":{"id":"t9","amount":500000,"account":{"order_id":"o9"}}}`,
		map[string]string{"X-Auth": "secret"})
	status, resp := f.do(t, http.MethodGet, "/debug/transactions", "", map[string]string{"Authorization": adminToken(t)})
	if status != http.StatusOK || resp["count"] != float64(1) {
		t.Fatalf("unexpected debug listing %d %v", status, resp)
	}

	status, resp = f.do(t, http.MethodPost, "/debug/publish", `{"status":"confirmed","test":true}`,
		map[string]string{"Authorization": adminToken(t)})
	if status != http.StatusAccepted || resp["topic"] != "payments/m1" {
		t.Fatalf("unexpected publish response %d %v", status, resp)
	}
	status, _ = f.do(t, http.MethodPost, "/debug/publish", `[1,2]`, map[string]string{"Authorization": adminToken(t)})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-object payload, got %d", status)
	}
}

func TestDebugRoutesHiddenWhenDisabled(t *testing.T) {
	handler := New(Config{MerchantID: "m1"})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/debug/transactions", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestOrdersAPI(t *testing.T) {
	f := newFixture(t)

	status, resp := f.do(t, http.MethodPost, "/api/orders", `{"device_id":"esp32","product_id":2}`, nil)
	if status != http.StatusCreated || resp["amount"] != float64(6000) {
		t.Fatalf("unexpected create response %d %v", status, resp)
	}
	orderID := resp["order_id"].(string)

	status, resp = f.do(t, http.MethodGet, "/api/orders", "", nil)
	if status != http.StatusOK || resp["count"] != float64(1) {
		t.Fatalf("unexpected list response %d %v", status, resp)
	}

	status, resp = f.do(t, http.MethodPost, "/api/orders/"+orderID+"/cancel", "", nil)
	if status != http.StatusOK || resp["status"] != "cancelled" {
		t.Fatalf("unexpected cancel response %d %v", status, resp)
	}
	status, _ = f.do(t, http.MethodPost, "/api/orders/"+uuid.NewString()+"/cancel", "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", status)
	}
	status, _ = f.do(t, http.MethodPost, "/api/orders", `{"product_id":42}`, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown product, got %d", status)
	}
}

func TestPricesAPI(t *testing.T) {
	f := newFixture(t)

	status, resp := f.do(t, http.MethodGet, "/api/prices", "", nil)
	if status != http.StatusOK || len(resp["names"].([]interface{})) != 4 {
		t.Fatalf("unexpected prices %d %v", status, resp)
	}

	status, _ = f.do(t, http.MethodPost, "/api/prices", `{"prices":[1,2,3,4]}`, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	status, resp = f.do(t, http.MethodPost, "/api/prices", `{"prices":[1000,2000,3000,4000]}`,
		map[string]string{"Authorization": adminToken(t)})
	if status != http.StatusOK || resp["success"] != true {
		t.Fatalf("unexpected update response %d %v", status, resp)
	}
	_, resp = f.do(t, http.MethodGet, "/api/prices", "", nil)
	if resp["prices"].([]interface{})[0] != float64(1000) {
		t.Fatalf("price update not persisted: %v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/healthz", "", nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK || !bytes.Contains(res.Body.Bytes(), []byte(`route="healthz"`)) {
		t.Fatalf("metrics missing route label: %d", res.Code)
	}
}
