package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payment/paymenttest"
)

type emitted struct {
	topic, eventType, orderID string
	payload                   any
}

type recordedEvents struct {
	mu      sync.Mutex
	emitted []emitted
	tasks   []orders.FollowupTask
}

func (r *recordedEvents) Emit(_ context.Context, topic, eventType, orderID string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = append(r.emitted, emitted{topic, eventType, orderID, payload})
	return nil
}

func (r *recordedEvents) Enqueue(_ context.Context, task orders.FollowupTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *recordedEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.emitted {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}

func (r *recordedEvents) queued() []orders.FollowupTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]orders.FollowupTask(nil), r.tasks...)
}

type fixture struct {
	engine *Engine
	ledger *inventory.MemoryLedger
	store  *orders.MemoryStore
	index  *orders.MemoryIndex
	gw     *paymenttest.Gateway
	events *recordedEvents
	now    time.Time
}

func newFixture(t *testing.T, stock map[string]int, tweak ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		ledger: inventory.NewMemoryLedger(stock),
		store:  orders.NewMemoryStore(),
		index:  orders.NewMemoryIndex(),
		gw:     paymenttest.New(),
		events: &recordedEvents{},
		now:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	d := Deps{
		Ledger:   f.ledger,
		Orders:   f.store,
		Index:    f.index,
		Gateway:  f.gw,
		Events:   f.events,
		Log:      logging.Discard(),
		HoldTTL:  30 * time.Minute,
		Currency: "usd",
		Now:      func() time.Time { return f.now },
	}
	for _, fn := range tweak {
		fn(&d)
	}
	f.engine = NewEngine(d)
	f.engine.retryDelay = time.Millisecond
	return f
}

func (f *fixture) available(t *testing.T, productID string) int {
	t.Helper()
	n, err := f.ledger.Available(context.Background(), productID)
	if err != nil {
		t.Fatalf("available %s: %v", productID, err)
	}
	return n
}

func addr() *orders.Address {
	return &orders.Address{Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701", Country: "US"}
}

func cashRequest(items ...orders.LineItem) Request {
	return Request{
		UserID:        "u1",
		Items:         items,
		PaymentMethod: orders.PaymentCash,
		SubtotalCents: 2000,
		ShippingCents: 0,
		TotalCents:    2000,
	}
}

func stripeRequest(items ...orders.LineItem) Request {
	return Request{
		UserID:          "u1",
		Items:           items,
		ShippingAddress: addr(),
		PaymentMethod:   orders.PaymentStripe,
		SubtotalCents:   2000,
		ShippingCents:   500,
		TotalCents:      2500,
	}
}

func item(pid string, qty int) orders.LineItem { return orders.LineItem{ProductID: pid, Quantity: qty} }

var errBoom = errors.New("boom")

type failingStore struct {
	orders.Store
	createErr error
	onCreate  func()
}

func (s failingStore) Create(ctx context.Context, o orders.Order) error {
	if s.onCreate != nil {
		s.onCreate()
	}
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.Create(ctx, o)
}

type failingIndex struct{ err error }

func (failingIndex) ListByUser(context.Context, string, int) ([]string, error) { return nil, nil }
func (x failingIndex) Append(context.Context, string, string) error            { return x.err }

type failingLedger struct {
	inventory.Ledger
	commitErr  error
	releaseErr error
}

func (l failingLedger) Commit(ctx context.Context, orderID string) error {
	if l.commitErr != nil {
		return l.commitErr
	}
	return l.Ledger.Commit(ctx, orderID)
}

func (l failingLedger) Release(ctx context.Context, orderID string) (int, error) {
	if l.releaseErr != nil {
		return 0, l.releaseErr
	}
	return l.Ledger.Release(ctx, orderID)
}

type refFailingStore struct {
	orders.Store
	err error
}

func (s refFailingStore) SetPaymentRef(context.Context, string, string) (orders.Order, error) {
	return orders.Order{}, s.err
}
