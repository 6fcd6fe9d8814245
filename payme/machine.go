package payme

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"paymebridge/observability"
)

const (
	// DefaultMinAmount is the smallest accepted payment in major units (sum).
	DefaultMinAmount int64 = 100
	DefaultCurrency        = "UZS"
)

// MachineOption adjusts the behaviour of the state machine.
type MachineOption func(*Machine)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger used for transition records.
func WithLogger(logger *slog.Logger) MachineOption {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMinAmount sets the minimum payment in major units.
func WithMinAmount(major int64) MachineOption {
	return func(m *Machine) {
		if major > 0 {
			m.minAmount = major
		}
	}
}

// WithReceipt sets the fiscal line returned by CheckPerformTransaction.
func WithReceipt(receipt ReceiptTemplate) MachineOption {
	return func(m *Machine) {
		m.receipt = receipt
	}
}

// WithAccountValidator replaces the default shape validator.
func WithAccountValidator(v AccountValidator) MachineOption {
	return func(m *Machine) {
		if v != nil {
			m.accounts = v
		}
	}
}

// WithCurrency sets the currency label attached to events.
func WithCurrency(code string) MachineOption {
	return func(m *Machine) {
		if code != "" {
			m.currency = code
		}
	}
}

// Machine applies provider calls to the transaction store. Every operation
// holds one store-wide mutex for its whole read-modify-write cycle and hands
// back the events to publish instead of publishing them itself.
type Machine struct {
	mu        sync.Mutex
	store     Store
	accounts  AccountValidator
	receipt   ReceiptTemplate
	minAmount int64
	currency  string
	now       func() time.Time
	logger    *slog.Logger
}

func NewMachine(store Store, opts ...MachineOption) *Machine {
	m := &Machine{
		store:     store,
		accounts:  ShapeValidator{},
		receipt:   DefaultReceipt(),
		minAmount: DefaultMinAmount,
		currency:  DefaultCurrency,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MinAmount returns the configured minimum in major units.
func (m *Machine) MinAmount() int64 { return m.minAmount }

func (m *Machine) nowMs() int64 {
	return m.now().UnixMilli()
}

func (m *Machine) belowMinimum(amount int64) bool {
	return amount < m.minAmount*100
}

// CheckPerformTransaction is a dry run: nothing is stored.
func (m *Machine) CheckPerformTransaction(ctx context.Context, req CheckPerformRequest) (*CheckPerformResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Amount == nil {
		return nil, NewError(KindInvalidParams, "Missing amount")
	}
	if m.belowMinimum(*req.Amount) {
		return nil, NewError(KindInvalidAmount, "Minimum amount is %d %s.", m.minAmount, m.currency)
	}
	if _, perr := m.accounts.ValidateAccount(req.Account); perr != nil {
		return nil, perr
	}
	return &CheckPerformResult{Allow: true, Detail: m.receipt.Detail(*req.Amount)}, nil
}

func (m *Machine) CreateTransaction(ctx context.Context, req CreateRequest) (*CreateResult, []Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.ID == "" || req.Amount == nil {
		return nil, nil, NewError(KindInvalidParams, "Missing transaction id or amount")
	}
	amount := *req.Amount
	if m.belowMinimum(amount) {
		return nil, nil, NewError(KindInvalidAmount, "Invalid amount: minimum is %d %s", m.minAmount, m.currency)
	}

	existing, err := m.store.Get(ctx, req.ID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		observability.TransactionMetrics().RecordReplay("CreateTransaction")
		return &CreateResult{
			CreateTime:  existing.CreateTime,
			Transaction: existing.ID,
			State:       existing.State,
		}, nil, nil
	}

	account := RecordAccount(req.Account)
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, tx := range all {
		if tx.State == StateCreated && tx.Account.Equal(account) {
			return nil, nil, NewError(KindAccountPending, "Account has pending transaction")
		}
	}

	tx := &Transaction{
		ID:         req.ID,
		State:      StateCreated,
		Amount:     amount,
		Account:    account,
		CreateTime: m.nowMs(),
	}
	if err := m.store.Put(ctx, tx); err != nil {
		return nil, nil, err
	}
	observability.TransactionMetrics().RecordTransition("", tx.State.String())
	m.logger.Info("transaction created", "transaction", tx.ID, "amount_tiyin", tx.Amount)

	event := Event{
		Kind:          EventCreated,
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Currency:      m.currency,
		Account:       tx.Account.Clone(),
		Time:          tx.CreateTime,
	}
	return &CreateResult{
		CreateTime:  tx.CreateTime,
		Transaction: tx.ID,
		State:       tx.State,
	}, []Event{event}, nil
}

func (m *Machine) PerformTransaction(ctx context.Context, req PerformRequest) (*PerformResult, []Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.lookup(ctx, req.ID)
	if err != nil {
		return nil, nil, err
	}
	if tx.State == StatePerformed {
		observability.TransactionMetrics().RecordReplay("PerformTransaction")
		return &PerformResult{PerformTime: tx.PerformTime, Transaction: tx.ID, State: tx.State}, nil, nil
	}
	if tx.State != StateCreated {
		return nil, nil, NewError(KindCantPerform, "Cannot perform transaction in current state.")
	}

	tx.State = StatePerformed
	tx.PerformTime = max(m.nowMs(), tx.CreateTime)
	if err := m.store.Put(ctx, tx); err != nil {
		return nil, nil, err
	}
	observability.TransactionMetrics().RecordTransition(StateCreated.String(), tx.State.String())
	m.logger.Info("transaction performed", "transaction", tx.ID, "amount_tiyin", tx.Amount)

	event := Event{
		Kind:          EventConfirmed,
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Currency:      m.currency,
		Account:       tx.Account.Clone(),
		Time:          tx.PerformTime,
	}
	return &PerformResult{PerformTime: tx.PerformTime, Transaction: tx.ID, State: tx.State}, []Event{event}, nil
}

func (m *Machine) CancelTransaction(ctx context.Context, req CancelRequest) (*CancelResult, []Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.lookup(ctx, req.ID)
	if err != nil {
		return nil, nil, err
	}
	if tx.State.Cancelled() {
		observability.TransactionMetrics().RecordReplay("CancelTransaction")
		return &CancelResult{CancelTime: tx.CancelTime, Transaction: tx.ID, State: tx.State}, nil, nil
	}

	from := tx.State
	switch from {
	case StateCreated:
		tx.State = StateCancelledBeforePerform
	case StatePerformed:
		tx.State = StateCancelledAfterPerform
	default:
		return nil, nil, NewError(KindCantPerform, "Cannot cancel transaction in current state.")
	}
	tx.CancelTime = max(m.nowMs(), tx.CreateTime, tx.PerformTime)
	tx.Reason = req.Reason
	if err := m.store.Put(ctx, tx); err != nil {
		return nil, nil, err
	}
	observability.TransactionMetrics().RecordTransition(from.String(), tx.State.String())
	m.logger.Info("transaction cancelled", "transaction", tx.ID, "state", int(tx.State), "reason", reasonAttr(tx.Reason))

	event := Event{
		Kind:          EventCancelled,
		TransactionID: tx.ID,
		Amount:        tx.Amount,
		Currency:      m.currency,
		Reason:        tx.Reason,
		Time:          tx.CancelTime,
	}
	return &CancelResult{CancelTime: tx.CancelTime, Transaction: tx.ID, State: tx.State}, []Event{event}, nil
}

func (m *Machine) CheckTransaction(ctx context.Context, req CheckRequest) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.lookup(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	snapshot := tx.Snapshot()
	return &snapshot, nil
}

// GetStatement lists transactions created within [From, To] in insertion
// order. From defaults to 0 and To to the current time.
func (m *Machine) GetStatement(ctx context.Context, req StatementRequest) (*StatementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := int64(0)
	if req.From != nil {
		from = *req.From
	}
	to := m.nowMs()
	if req.To != nil {
		to = *req.To
	}

	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	result := &StatementResult{Transactions: make([]StatementEntry, 0, len(all))}
	for _, tx := range all {
		if tx.CreateTime < from || tx.CreateTime > to {
			continue
		}
		result.Transactions = append(result.Transactions, tx.StatementEntry())
	}
	return result, nil
}

// Transactions returns every stored transaction in insertion order.
func (m *Machine) Transactions(ctx context.Context) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.List(ctx)
}

func (m *Machine) lookup(ctx context.Context, id string) (*Transaction, error) {
	if id == "" {
		return nil, NewError(KindInvalidParams, "Missing transaction id")
	}
	tx, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, NewError(KindTransactionNotFound, "Transaction not found.")
	}
	return tx.Clone(), nil
}

func reasonAttr(reason *int) any {
	if reason == nil {
		return nil
	}
	return *reason
}
