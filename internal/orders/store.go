package orders

import "context"

// Store persists orders. Every mutation advances UpdatedAt.
type Store interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	GetByPaymentRef(ctx context.Context, ref string) (Order, error)
	ListByIDs(ctx context.Context, ids []string) ([]Order, error)
	// Transition moves the order from one state to another only if it is still in from.
	// It returns ErrStaleTransition when the stored state no longer matches.
	Transition(ctx context.Context, id string, from, to State) (Order, error)
	// SetPaymentRef binds the processor intent to the order. A different ref may replace an
	// existing one only while the order is still pending/pending.
	SetPaymentRef(ctx context.Context, id, ref string) (Order, error)
	SetReceiptURL(ctx context.Context, id, url string) error
}

// Index is the per-user list of order references. It is a convenience view: writes are
// best-effort and may lag the order store.
type Index interface {
	Append(ctx context.Context, userID, orderID string) error
	// ListByUser returns order ids, most recent first.
	ListByUser(ctx context.Context, userID string, limit int) ([]string, error)
}

// ListForUser resolves the user's index into orders, keeping the index order. Ids the store
// does not know are skipped.
func ListForUser(ctx context.Context, idx Index, st Store, userID string, limit int) ([]Order, error) {
	ids, err := idx.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Order{}, nil
	}
	found, err := st.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Order, len(found))
	for _, o := range found {
		byID[o.ID] = o
	}
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := byID[id]; ok && o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}
