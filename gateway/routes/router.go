package routes

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"paymebridge/events"
	"paymebridge/gateway/middleware"
	"paymebridge/orders"
	"paymebridge/payme"
)

// TransactionLister exposes the stored transactions for debug routes.
type TransactionLister interface {
	Transactions(ctx context.Context) ([]*payme.Transaction, error)
}

// Queue is the event dispatcher as seen by status and debug routes.
type Queue interface {
	Enqueue(topic string, payload map[string]interface{}) error
	Stats() events.Stats
}

// PublisherInfo describes the configured event transport.
type PublisherInfo struct {
	Driver string
	Status events.Status
}

type Config struct {
	MerchantID     string
	TestMode       bool
	TopicPrefix    string
	DebugEndpoints bool

	Webhook      http.Handler
	Transactions TransactionLister
	Queue        Queue
	Publisher    PublisherInfo
	Orders       *orders.Book
	Catalog      *orders.Catalog

	AdminAuth     *middleware.AdminAuth
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig

	Logger *slog.Logger
	Now    func() time.Time
}

// New assembles the HTTP surface of the bridge.
func New(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &server{cfg: cfg}

	r := chi.NewRouter()
	obs := cfg.Observability
	instrument := func(route string) func(http.Handler) http.Handler {
		if obs == nil {
			return passthrough
		}
		return obs.Middleware(route)
	}
	limit := func(group string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return passthrough
		}
		return cfg.RateLimiter.Middleware(group)
	}
	admin := passthrough
	if cfg.AdminAuth != nil {
		admin = cfg.AdminAuth.Middleware
	}

	if cfg.Webhook != nil {
		r.With(limit("webhook"), instrument("payme")).Post("/payme", cfg.Webhook.ServeHTTP)
		r.With(limit("webhook"), instrument("payme")).Post("/payme-mqtt", cfg.Webhook.ServeHTTP)
	}

	r.With(instrument("healthz")).Get("/healthz", s.health)
	r.With(instrument("status.publisher")).Get("/status/publisher", s.publisherStatus)

	if cfg.DebugEndpoints {
		r.Route("/debug", func(dr chi.Router) {
			dr.Use(admin)
			dr.With(instrument("debug.transactions")).Get("/transactions", s.debugTransactions)
			dr.With(instrument("debug.publish")).Post("/publish", s.debugPublish)
		})
	}

	if cfg.Orders != nil || cfg.Catalog != nil {
		r.Route("/api", func(ar chi.Router) {
			ar.Use(middleware.CORS(cfg.CORS))
			ar.Use(limit("orders"))
			if cfg.Orders != nil {
				ar.With(instrument("orders.create")).Post("/orders", s.createOrder)
				ar.With(instrument("orders.list")).Get("/orders", s.listOrders)
				ar.With(instrument("orders.cancel")).Post("/orders/{id}/cancel", s.cancelOrder)
			}
			if cfg.Catalog != nil {
				ar.With(instrument("prices.get")).Get("/prices", s.getPrices)
				ar.With(admin, instrument("prices.set")).Post("/prices", s.setPrices)
			}
		})
	}

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}
	return r
}

type server struct {
	cfg Config
}

func passthrough(next http.Handler) http.Handler { return next }

func (s *server) topic() string {
	return events.Topic(s.cfg.TopicPrefix, s.cfg.MerchantID)
}

func (s *server) mode() string {
	if s.cfg.TestMode {
		return "TEST"
	}
	return "PRODUCTION"
}

func (s *server) publisherConnected() bool {
	return s.cfg.Publisher.Status != nil && s.cfg.Publisher.Status.Connected()
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}
