package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs. Orders are copied in and
// out so callers never share slices with the store.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]Order
	byRef  map[string]string
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]Order),
		byRef:  make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, o Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return ErrAlreadyExists
	}
	if o.ExternalPaymentRef != "" {
		if _, taken := s.byRef[o.ExternalPaymentRef]; taken {
			return ErrAlreadyExists
		}
		s.byRef[o.ExternalPaymentRef] = o.ID
	}
	now := s.now()
	o.CreatedAt, o.UpdatedAt = now, now
	s.orders[o.ID] = clone(o)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return clone(o), nil
}

func (s *MemoryStore) GetByPaymentRef(ctx context.Context, ref string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRef[ref]
	if !ok {
		return Order{}, ErrNotFound
	}
	return clone(s.orders[id]), nil
}

func (s *MemoryStore) ListByIDs(ctx context.Context, ids []string) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Order{}
	for _, id := range ids {
		if o, ok := s.orders[id]; ok {
			out = append(out, clone(o))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, from, to State) (Order, error) {
	if !CanMove(from, to) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if o.State() != from {
		return Order{}, ErrStaleTransition
	}
	o.Status, o.PaymentStatus = to.Status, to.PaymentStatus
	o.UpdatedAt = s.now()
	s.orders[id] = o
	return clone(o), nil
}

func (s *MemoryStore) SetPaymentRef(ctx context.Context, id, ref string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if owner, taken := s.byRef[ref]; taken && owner != id {
		return Order{}, ErrPaymentRefConflict
	}
	if o.ExternalPaymentRef != "" && o.ExternalPaymentRef != ref && o.State() != StatePending {
		return Order{}, ErrPaymentRefConflict
	}
	if o.ExternalPaymentRef != "" {
		delete(s.byRef, o.ExternalPaymentRef)
	}
	o.ExternalPaymentRef = ref
	o.UpdatedAt = s.now()
	s.orders[id] = o
	s.byRef[ref] = id
	return clone(o), nil
}

func (s *MemoryStore) SetReceiptURL(ctx context.Context, id, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.ReceiptURL = url
	o.UpdatedAt = s.now()
	s.orders[id] = o
	return nil
}

// Len is the number of stored orders.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func clone(o Order) Order {
	o.LineItems = append([]LineItem(nil), o.LineItems...)
	if o.ShippingAddress != nil {
		a := *o.ShippingAddress
		o.ShippingAddress = &a
	}
	return o
}

type MemoryIndex struct {
	mu   sync.Mutex
	refs map[string][]string // user -> order ids, oldest first
}

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{refs: make(map[string][]string)}
}

func (x *MemoryIndex) Append(ctx context.Context, userID, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, id := range x.refs[userID] {
		if id == orderID {
			return nil
		}
	}
	x.refs[userID] = append(x.refs[userID], orderID)
	return nil
}

func (x *MemoryIndex) ListByUser(ctx context.Context, userID string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	refs := x.refs[userID]
	out := make([]string, 0, len(refs))
	for i := len(refs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, refs[i])
	}
	return out, nil
}
