package inventory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger for tests and local runs.
type MemoryLedger struct {
	mu        sync.Mutex
	available map[string]int
	holds     map[string]map[string]*Hold // order -> product -> hold
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger(stock map[string]int) *MemoryLedger {
	l := &MemoryLedger{
		available: make(map[string]int, len(stock)),
		holds:     make(map[string]map[string]*Hold),
	}
	for pid, n := range stock {
		l.available[pid] = n
	}
	return l
}

func (l *MemoryLedger) Reserve(ctx context.Context, orderID, productID string, qty int, expiresAt time.Time) error {
	if qty <= 0 {
		return ErrInvalidQty
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	available, ok := l.available[productID]
	if !ok {
		return ErrUnknownProduct
	}
	if _, dup := l.holds[orderID][productID]; dup {
		return nil
	}
	if available < qty {
		return &InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
	}
	l.available[productID] = available - qty
	if l.holds[orderID] == nil {
		l.holds[orderID] = make(map[string]*Hold)
	}
	l.holds[orderID][productID] = &Hold{OrderID: orderID, ProductID: productID, Qty: qty, Status: HoldReserved, ExpiresAt: expiresAt}
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, orderID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	units := 0
	for pid, h := range l.holds[orderID] {
		if h.Status != HoldReserved {
			continue
		}
		h.Status = HoldReleased
		l.available[pid] += h.Qty
		units += h.Qty
	}
	return units, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, h := range l.holds[orderID] {
		if h.Status == HoldReserved {
			h.Status = HoldCommitted
			h.ExpiresAt = time.Time{}
		}
	}
	return nil
}

func (l *MemoryLedger) Available(_ context.Context, productID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, ok := l.available[productID]
	if !ok {
		return 0, ErrUnknownProduct
	}
	return n, nil
}

func (l *MemoryLedger) Holds(_ context.Context, orderID string) ([]Hold, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Hold, 0, len(l.holds[orderID]))
	for _, h := range l.holds[orderID] {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (l *MemoryLedger) Expired(_ context.Context, now time.Time, limit int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []string
	for oid, hs := range l.holds {
		for _, h := range hs {
			if h.Status == HoldReserved && !h.ExpiresAt.IsZero() && !h.ExpiresAt.After(now) {
				ids = append(ids, oid)
				break
			}
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
