package payme

import "fmt"

// State is the provider-defined transaction state.
type State int

const (
	StateCancelledAfterPerform  State = -2
	StateCancelledBeforePerform State = -1
	StateCreated                State = 1
	StatePerformed              State = 2
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePerformed:
		return "performed"
	case StateCancelledBeforePerform:
		return "cancelled_before_perform"
	case StateCancelledAfterPerform:
		return "cancelled_after_perform"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Valid reports whether s is one of the four provider states.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StatePerformed, StateCancelledBeforePerform, StateCancelledAfterPerform:
		return true
	}
	return false
}

// Cancelled reports whether s is a terminal cancelled state.
func (s State) Cancelled() bool {
	return s == StateCancelledBeforePerform || s == StateCancelledAfterPerform
}

// Transaction is the persisted record for one provider transaction. Times are
// epoch milliseconds; zero means the transition has not happened.
type Transaction struct {
	ID          string  `json:"id"`
	State       State   `json:"state"`
	Amount      int64   `json:"amount"`
	Account     Account `json:"account"`
	CreateTime  int64   `json:"create_time"`
	PerformTime int64   `json:"perform_time,omitempty"`
	CancelTime  int64   `json:"cancel_time,omitempty"`
	Reason      *int    `json:"reason,omitempty"`
}

// Validate checks the record invariants. A stored record failing validation
// is treated as corrupt.
func (t *Transaction) Validate() error {
	if t == nil {
		return fmt.Errorf("transaction: nil record")
	}
	if t.ID == "" {
		return fmt.Errorf("transaction: empty id")
	}
	if !t.State.Valid() {
		return fmt.Errorf("transaction %s: invalid state %d", t.ID, int(t.State))
	}
	if t.Amount < 0 {
		return fmt.Errorf("transaction %s: negative amount", t.ID)
	}
	if t.CreateTime <= 0 {
		return fmt.Errorf("transaction %s: missing create time", t.ID)
	}
	performed := t.State == StatePerformed || t.State == StateCancelledAfterPerform
	if performed != (t.PerformTime > 0) {
		return fmt.Errorf("transaction %s: perform time inconsistent with state %s", t.ID, t.State)
	}
	if t.State.Cancelled() != (t.CancelTime > 0) {
		return fmt.Errorf("transaction %s: cancel time inconsistent with state %s", t.ID, t.State)
	}
	return nil
}

// Clone returns a deep copy so callers never share the account map.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	out := *t
	out.Account = t.Account.Clone()
	if t.Reason != nil {
		reason := *t.Reason
		out.Reason = &reason
	}
	return &out
}

// AmountMajor converts minor units (tiyin) into major units (sum).
func AmountMajor(minor int64) float64 {
	return float64(minor) / 100
}

// Snapshot is the projection returned by CheckTransaction.
type Snapshot struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       State  `json:"state"`
	Reason      *int   `json:"reason"`
}

func (t *Transaction) Snapshot() Snapshot {
	return Snapshot{
		CreateTime:  t.CreateTime,
		PerformTime: t.PerformTime,
		CancelTime:  t.CancelTime,
		Transaction: t.ID,
		State:       t.State,
		Reason:      t.Reason,
	}
}

// StatementEntry is one line of a GetStatement response.
type StatementEntry struct {
	ID          string  `json:"id"`
	Time        int64   `json:"time"`
	Amount      int64   `json:"amount"`
	Account     Account `json:"account"`
	CreateTime  int64   `json:"create_time"`
	PerformTime int64   `json:"perform_time"`
	CancelTime  int64   `json:"cancel_time"`
	Transaction string  `json:"transaction"`
	State       State   `json:"state"`
	Reason      *int    `json:"reason"`
}

func (t *Transaction) StatementEntry() StatementEntry {
	return StatementEntry{
		ID:          t.ID,
		Time:        t.CreateTime,
		Amount:      t.Amount,
		Account:     t.Account.Clone(),
		CreateTime:  t.CreateTime,
		PerformTime: t.PerformTime,
		CancelTime:  t.CancelTime,
		Transaction: t.ID,
		State:       t.State,
		Reason:      t.Reason,
	}
}
