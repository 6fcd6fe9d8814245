package orders

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	DefaultCheckoutBase = "https://checkout.paycom.uz"
	DefaultAccountField = "order_id"
)

// CheckoutURL builds the provider checkout link for a payment of amountTiyin
// attributed to account field=value.
func CheckoutURL(base, merchantID, field, value string, amountTiyin int64) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultCheckoutBase
	}
	if field == "" {
		field = DefaultAccountField
	}
	params := fmt.Sprintf("m=%s;ac.%s=%s;a=%d", merchantID, field, value, amountTiyin)
	return base + "/" + base64.StdEncoding.EncodeToString([]byte(params))
}
