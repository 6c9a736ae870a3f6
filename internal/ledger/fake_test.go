package ledger_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/audit"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/catalog"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/ledger"
)

type ledgerState struct {
	orders   map[uuid.UUID]ledger.Order
	payments []ledger.Payment
	events   []audit.Event
}

func (s ledgerState) clone() ledgerState {
	orders := make(map[uuid.UUID]ledger.Order, len(s.orders))
	for id, o := range s.orders {
		orders[id] = o
	}
	return ledgerState{
		orders:   orders,
		payments: append([]ledger.Payment(nil), s.payments...),
		events:   append([]audit.Event(nil), s.events...),
	}
}

// fakeRepository serializes transactions and commits a copy of the state
// only when the callback succeeds.
type fakeRepository struct {
	mu    sync.Mutex
	state ledgerState
	// failOn makes the named Tx method return the error.
	failOn map[string]error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		state:  ledgerState{orders: map[uuid.UUID]ledger.Order{}},
		failOn: map[string]error{},
	}
}

func (r *fakeRepository) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &fakeTx{state: r.state.clone(), failOn: r.failOn}
	if err := fn(tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

func (r *fakeRepository) OrderByID(_ context.Context, id uuid.UUID) (*ledger.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.state.orders[id]
	if !ok {
		return nil, ledger.ErrOrderNotFound
	}
	return &o, nil
}

func (r *fakeRepository) OrderByCode(_ context.Context, code string) (*ledger.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.state.orders {
		if o.Code == code {
			return &o, nil
		}
	}
	return nil, ledger.ErrOrderNotFound
}

func (r *fakeRepository) ListOrders(_ context.Context, f ledger.OrderFilter) ([]ledger.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ledger.Order, 0)
	for _, o := range r.state.orders {
		if f.Code != "" && !strings.Contains(strings.ToLower(o.Code), strings.ToLower(f.Code)) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *fakeRepository) PaymentsByOrder(_ context.Context, orderID uuid.UUID) ([]ledger.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return paymentsOf(r.state.payments, orderID), nil
}

func (r *fakeRepository) RecentPayments(_ context.Context, limit int) ([]ledger.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ledger.Payment, 0, len(r.state.payments))
	for i := len(r.state.payments) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.state.payments[i])
	}
	return out, nil
}

func (r *fakeRepository) order(id uuid.UUID) ledger.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.orders[id]
}

func (r *fakeRepository) paymentCount(orderID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(paymentsOf(r.state.payments, orderID))
}

func (r *fakeRepository) eventTypes() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]audit.EventType, 0, len(r.state.events))
	for _, e := range r.state.events {
		types = append(types, e.Type)
	}
	return types
}

func (r *fakeRepository) put(o ledger.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.orders[o.ID] = o
}

type fakeTx struct {
	state  ledgerState
	failOn map[string]error
}

func (t *fakeTx) fail(method string) error {
	return t.failOn[method]
}

func (t *fakeTx) LockOrder(_ context.Context, id uuid.UUID) (*ledger.Order, error) {
	if err := t.fail("LockOrder"); err != nil {
		return nil, err
	}
	o, ok := t.state.orders[id]
	if !ok {
		return nil, ledger.ErrOrderNotFound
	}
	return &o, nil
}

func (t *fakeTx) InsertOrder(_ context.Context, o *ledger.Order) error {
	if err := t.fail("InsertOrder"); err != nil {
		return err
	}
	for _, existing := range t.state.orders {
		if existing.Code == o.Code {
			return fmt.Errorf("order code %s already exists: %w", o.Code, ledger.ErrConflict)
		}
	}
	t.state.orders[o.ID] = *o
	return nil
}

func (t *fakeTx) InsertPayment(_ context.Context, p *ledger.Payment) error {
	if err := t.fail("InsertPayment"); err != nil {
		return err
	}
	t.state.payments = append(t.state.payments, *p)
	return nil
}

func (t *fakeTx) Payments(_ context.Context, orderID uuid.UUID) ([]ledger.Payment, error) {
	if err := t.fail("Payments"); err != nil {
		return nil, err
	}
	return paymentsOf(t.state.payments, orderID), nil
}

func (t *fakeTx) SumApproved(_ context.Context, orderID uuid.UUID) (decimal.Decimal, error) {
	if err := t.fail("SumApproved"); err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, p := range paymentsOf(t.state.payments, orderID) {
		if p.Status == ledger.PaymentApproved {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (t *fakeTx) UpdateOrderState(_ context.Context, o *ledger.Order, expectedVersion int64) error {
	if err := t.fail("UpdateOrderState"); err != nil {
		return err
	}
	stored, ok := t.state.orders[o.ID]
	if !ok {
		return ledger.ErrOrderNotFound
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("order %s is no longer at version %d: %w", o.ID, expectedVersion, ledger.ErrConflict)
	}
	o.Version = expectedVersion + 1
	t.state.orders[o.ID] = *o
	return nil
}

func (t *fakeTx) AppendEvents(_ context.Context, events ...audit.Event) error {
	if err := t.fail("AppendEvents"); err != nil {
		return err
	}
	t.state.events = append(t.state.events, events...)
	return nil
}

func paymentsOf(all []ledger.Payment, orderID uuid.UUID) []ledger.Payment {
	out := make([]ledger.Payment, 0)
	for _, p := range all {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out
}

type fakeCatalog struct {
	products  map[uuid.UUID]catalog.Product
	customers map[uuid.UUID]catalog.Customer
	err       error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products:  map[uuid.UUID]catalog.Product{},
		customers: map[uuid.UUID]catalog.Customer{},
	}
}

func (c *fakeCatalog) Product(_ context.Context, id uuid.UUID) (catalog.Product, error) {
	if c.err != nil {
		return catalog.Product{}, c.err
	}
	p, ok := c.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

func (c *fakeCatalog) Customer(_ context.Context, id uuid.UUID) (catalog.Customer, error) {
	if c.err != nil {
		return catalog.Customer{}, c.err
	}
	cu, ok := c.customers[id]
	if !ok {
		return catalog.Customer{}, catalog.ErrCustomerNotFound
	}
	return cu, nil
}

func (c *fakeCatalog) addProduct(price string) uuid.UUID {
	id := uuid.Must(uuid.NewV4())
	c.products[id] = catalog.Product{
		ID:        id,
		SKU:       "SKU-" + id.String()[:8],
		Name:      "Product " + price,
		UnitPrice: decimal.RequireFromString(price),
		Currency:  "PEN",
		Status:    catalog.ProductActive,
	}
	return id
}

func (c *fakeCatalog) addCustomer() uuid.UUID {
	id := uuid.Must(uuid.NewV4())
	c.customers[id] = catalog.Customer{ID: id, DocType: "DNI", DocNumber: "12345678", FirstName: "Ana", LastName: "Quispe"}
	return id
}

type countingRecorder struct {
	mu         sync.Mutex
	created    int
	registered map[ledger.PaymentStatus]int
	duplicates int
	paid       int
	changes    int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{registered: map[ledger.PaymentStatus]int{}}
}

func (r *countingRecorder) OrderCreated(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}

func (r *countingRecorder) PaymentRegistered(s ledger.PaymentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[s]++
}

func (r *countingRecorder) DuplicatePaymentRejected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duplicates++
}

func (r *countingRecorder) OrderPaid() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paid++
}

func (r *countingRecorder) StatusChanged(ledger.OrderStatus, ledger.OrderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes++
}
