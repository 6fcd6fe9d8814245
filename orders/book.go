package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned for unknown order ids.
	ErrNotFound = errors.New("orders: not found")
	// ErrInvalidOrder wraps validation failures on order input.
	ErrInvalidOrder = errors.New("orders: invalid order")
)

// maxAmount is the largest major amount whose tiyin value fits in an int64.
const maxAmount = math.MaxInt64 / 100

// Sink receives device notifications for order changes.
type Sink interface {
	Enqueue(topic string, payload map[string]interface{}) error
}

// BookConfig holds the checkout parameters orders are issued with.
type BookConfig struct {
	MerchantID   string
	CheckoutBase string
	AccountField string
	Topic        string
}

// CreateInput is the device request for a new order. Amount is in major
// units; zero selects the catalog price of ProductID.
type CreateInput struct {
	DeviceID  string `json:"device_id"`
	ProductID int    `json:"product_id"`
	Amount    int64  `json:"amount"`
}

// Book manages vending orders.
type Book struct {
	db      *gorm.DB
	catalog *Catalog
	sink    Sink
	cfg     BookConfig
	now     func() time.Time
	logger  *slog.Logger
}

func NewBook(db *gorm.DB, catalog *Catalog, sink Sink, cfg BookConfig, logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AccountField == "" {
		cfg.AccountField = DefaultAccountField
	}
	return &Book{db: db, catalog: catalog, sink: sink, cfg: cfg, now: time.Now, logger: logger}
}

// SetClock overrides the time source (tests).
func (b *Book) SetClock(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

func (b *Book) Create(ctx context.Context, in CreateInput) (*Order, error) {
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	if in.DeviceID == "" {
		in.DeviceID = "unknown"
	}
	if in.ProductID <= 0 {
		in.ProductID = 1
	}
	if in.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if in.Amount > maxAmount {
		return nil, fmt.Errorf("%w: amount exceeds %d", ErrInvalidOrder, maxAmount)
	}
	if in.Amount == 0 {
		if b.catalog == nil {
			return nil, fmt.Errorf("%w: amount required", ErrInvalidOrder)
		}
		item, err := b.catalog.Item(ctx, in.ProductID)
		if err != nil {
			return nil, err
		}
		in.Amount = item.Price
	}

	id := uuid.New()
	tiyin := in.Amount * 100
	order := &Order{
		ID:          id,
		DeviceID:    in.DeviceID,
		ProductID:   in.ProductID,
		Amount:      in.Amount,
		AmountTiyin: tiyin,
		CheckoutURL: CheckoutURL(b.cfg.CheckoutBase, b.cfg.MerchantID, b.cfg.AccountField, id.String(), tiyin),
		Status:      StatusPending,
		CreatedAt:   b.now().UnixMilli(),
	}
	if err := b.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, fmt.Errorf("orders: create: %w", err)
	}
	b.logger.Info("order created", "order", order.ID.String(), "device", order.DeviceID,
		"product", order.ProductID, "amount", order.Amount)

	b.notify(map[string]interface{}{
		"status":       "created",
		"order_id":     order.ID.String(),
		"product_id":   order.ProductID,
		"amount":       order.Amount,
		"amount_tiyin": order.AmountTiyin,
		"qr_url":       order.CheckoutURL,
		"time":         order.CreatedAt,
	})
	return order, nil
}

// Cancel marks a pending order cancelled. Cancelling twice returns the order
// without a second notification.
func (b *Book) Cancel(ctx context.Context, id string) (*Order, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, ErrNotFound
	}
	var (
		order   Order
		changed bool
	)
	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&order, "id = ?", parsed).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if order.Status == StatusCancelled {
			return nil
		}
		order.Status = StatusCancelled
		changed = true
		return tx.Model(&order).Update("status", StatusCancelled).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("orders: cancel: %w", err)
	}
	if changed {
		b.logger.Info("order cancelled", "order", order.ID.String())
		b.notify(map[string]interface{}{
			"status":   "cancelled",
			"order_id": order.ID.String(),
			"time":     b.now().UnixMilli(),
		})
	}
	return &order, nil
}

func (b *Book) Get(ctx context.Context, id string) (*Order, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, ErrNotFound
	}
	var order Order
	if err := b.db.WithContext(ctx).First(&order, "id = ?", parsed).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("orders: get: %w", err)
	}
	return &order, nil
}

// List returns all orders, oldest first.
func (b *Book) List(ctx context.Context) ([]Order, error) {
	var out []Order
	if err := b.db.WithContext(ctx).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("orders: list: %w", err)
	}
	return out, nil
}

func (b *Book) notify(payload map[string]interface{}) {
	if b.sink == nil || b.cfg.Topic == "" {
		return
	}
	if err := b.sink.Enqueue(b.cfg.Topic, payload); err != nil {
		b.logger.Warn("orders: notification not queued", "status", payload["status"], "error", err)
	}
}
