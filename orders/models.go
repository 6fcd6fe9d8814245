package orders

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status tracks a vending order. Orders are only ever pending or cancelled;
// settlement is tracked by the provider transaction, not the order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
)

// Order is a purchase started at a vending device. The device renders
// CheckoutURL as a QR code.
type Order struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"order_id"`
	DeviceID    string    `gorm:"size:128;index" json:"device_id"`
	ProductID   int       `gorm:"not null" json:"product_id"`
	Amount      int64     `gorm:"not null" json:"amount"`
	AmountTiyin int64     `gorm:"not null" json:"amount_tiyin"`
	CheckoutURL string    `gorm:"size:512" json:"qr_url"`
	Status      Status    `gorm:"size:16;index" json:"status"`
	CreatedAt   int64     `gorm:"autoCreateTime:milli;index" json:"created_at"`
	UpdatedAt   int64     `gorm:"autoUpdateTime:milli" json:"-"`
}

// CatalogItem is one slot of the device price list. Position is 1-based and
// matches the product id the device sends.
type CatalogItem struct {
	Position int    `gorm:"primaryKey;autoIncrement:false"`
	Name     string `gorm:"size:128"`
	Price    int64  `gorm:"not null"`
}

// AutoMigrate creates or updates the order tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Order{}, &CatalogItem{})
}
