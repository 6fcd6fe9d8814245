package orders

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrUnknownProduct is returned when a product id has no catalog slot.
var ErrUnknownProduct = errors.New("orders: unknown product")

// PriceList is the wire shape devices poll: parallel name and price arrays.
type PriceList struct {
	Prices []int64  `json:"prices"`
	Names  []string `json:"names"`
}

// PriceUpdate replaces prices, names or both. Nil fields are left unchanged.
type PriceUpdate struct {
	Prices []int64  `json:"prices,omitempty"`
	Names  []string `json:"names,omitempty"`
}

// DefaultPriceList is served until an operator stores a catalog.
func DefaultPriceList() PriceList {
	return PriceList{
		Prices: []int64{5000, 6000, 7000, 8000},
		Names:  []string{"Tom Ford", "Lanvin", "Dior", "Dolce Gabbana"},
	}
}

// Catalog stores the device price list.
type Catalog struct {
	db *gorm.DB
}

func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) items(ctx context.Context) ([]CatalogItem, error) {
	var items []CatalogItem
	if err := c.db.WithContext(ctx).Order("position asc").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("orders: load catalog: %w", err)
	}
	if len(items) == 0 {
		return fromPriceList(DefaultPriceList()), nil
	}
	return items, nil
}

func (c *Catalog) Prices(ctx context.Context) (PriceList, error) {
	items, err := c.items(ctx)
	if err != nil {
		return PriceList{}, err
	}
	return toPriceList(items), nil
}

// Item returns the slot for a 1-based product id.
func (c *Catalog) Item(ctx context.Context, productID int) (CatalogItem, error) {
	items, err := c.items(ctx)
	if err != nil {
		return CatalogItem{}, err
	}
	for _, item := range items {
		if item.Position == productID {
			return item, nil
		}
	}
	return CatalogItem{}, fmt.Errorf("%w: %d", ErrUnknownProduct, productID)
}

// Update merges upd into the stored list and replaces it atomically.
func (c *Catalog) Update(ctx context.Context, upd PriceUpdate) (PriceList, error) {
	current, err := c.Prices(ctx)
	if err != nil {
		return PriceList{}, err
	}
	if upd.Prices != nil {
		current.Prices = upd.Prices
	}
	if upd.Names != nil {
		current.Names = upd.Names
	}
	if len(current.Prices) == 0 {
		return PriceList{}, fmt.Errorf("%w: catalog must not be empty", ErrInvalidOrder)
	}
	if len(current.Prices) != len(current.Names) {
		return PriceList{}, fmt.Errorf("%w: %d prices for %d names", ErrInvalidOrder, len(current.Prices), len(current.Names))
	}
	for i, price := range current.Prices {
		if price <= 0 {
			return PriceList{}, fmt.Errorf("%w: price %d must be positive", ErrInvalidOrder, i+1)
		}
	}

	items := fromPriceList(current)
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&CatalogItem{}).Error; err != nil {
			return err
		}
		return tx.Create(&items).Error
	})
	if err != nil {
		return PriceList{}, fmt.Errorf("orders: store catalog: %w", err)
	}
	return current, nil
}

func fromPriceList(list PriceList) []CatalogItem {
	items := make([]CatalogItem, 0, len(list.Prices))
	for i := range list.Prices {
		items = append(items, CatalogItem{Position: i + 1, Name: list.Names[i], Price: list.Prices[i]})
	}
	return items
}

func toPriceList(items []CatalogItem) PriceList {
	list := PriceList{Prices: make([]int64, 0, len(items)), Names: make([]string, 0, len(items))}
	for _, item := range items {
		list.Prices = append(list.Prices, item.Price)
		list.Names = append(list.Names, item.Name)
	}
	return list
}
