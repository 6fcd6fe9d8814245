package payme

// EventKind is the device-facing status string.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventConfirmed EventKind = "confirmed"
	EventCancelled EventKind = "cancelled"
)

// Event describes a lifecycle transition that must be announced once the
// store lock has been released.
type Event struct {
	Kind          EventKind
	TransactionID string
	Amount        int64
	Currency      string
	Account       Account
	Reason        *int
	Time          int64
}

// Payload renders the JSON object the vending controller expects.
func (e Event) Payload() map[string]interface{} {
	payload := map[string]interface{}{
		"status":         string(e.Kind),
		"transaction_id": e.TransactionID,
		"amount":         AmountMajor(e.Amount),
		"amount_tiyin":   e.Amount,
		"time":           e.Time,
	}
	switch e.Kind {
	case EventCreated:
		payload["account"] = e.Account.Clone()
	case EventConfirmed:
		payload["currency"] = e.Currency
		payload["account"] = e.Account.Clone()
	case EventCancelled:
		payload["currency"] = e.Currency
		if e.Reason != nil {
			payload["reason"] = *e.Reason
		} else {
			payload["reason"] = nil
		}
	}
	return payload
}
