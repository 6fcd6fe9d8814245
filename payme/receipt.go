package payme

// ReceiptTemplate holds the fiscal receipt fields returned by
// CheckPerformTransaction.
type ReceiptTemplate struct {
	Title       string
	Code        string
	PackageCode string
	VATPercent  int
}

// DefaultReceipt matches the merchant's registered fiscal line.
func DefaultReceipt() ReceiptTemplate {
	return ReceiptTemplate{
		Title:       "Оплата товаров/услуг",
		Code:        "007",
		PackageCode: "12345678901234",
		VATPercent:  15,
	}
}

type ReceiptItem struct {
	Title       string `json:"title"`
	Price       int64  `json:"price"`
	Count       int    `json:"count"`
	Code        string `json:"code"`
	PackageCode string `json:"package_code"`
	VATPercent  int    `json:"vat_percent"`
}

type ReceiptDetail struct {
	ReceiptType int           `json:"receipt_type"`
	Items       []ReceiptItem `json:"items"`
}

// Detail builds a single-line receipt for amount (minor units).
func (r ReceiptTemplate) Detail(amount int64) ReceiptDetail {
	return ReceiptDetail{
		ReceiptType: 0,
		Items: []ReceiptItem{{
			Title:       r.Title,
			Price:       amount,
			Count:       1,
			Code:        r.Code,
			PackageCode: r.PackageCode,
			VATPercent:  r.VATPercent,
		}},
	}
}
