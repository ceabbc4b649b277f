// Package checkout turns carts into orders and reconciles them with payment confirmations.
//
// Stock is held from checkout until the sale is final. Cash orders commit their holds as
// soon as the order is stored. Card orders hold stock for HoldTTL: a succeeded payment
// commits the holds, a failed or canceled one releases them, and the sweeper settles holds
// that expire without either.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payment"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-storefront-orders/internal/checkout")

// Events publishes lifecycle events and queues follow-up work.
type Events interface {
	Emit(ctx context.Context, topic, eventType, orderID string, payload any) error
	Enqueue(ctx context.Context, task orders.FollowupTask) error
}

// Pricer returns current unit prices in minor units. Products it does not know are absent
// from the result.
type Pricer interface {
	UnitPrices(ctx context.Context, productIDs []string) (map[string]int64, error)
}

type Deps struct {
	Ledger  inventory.Ledger
	Orders  orders.Store
	Index   orders.Index
	Gateway payment.Gateway
	Events  Events // optional
	Pricer  Pricer // optional; when set the submitted subtotal must match it
	Log     *slog.Logger

	HoldTTL  time.Duration
	Currency string
	Now      func() time.Time
	NewID    func() string
}

type Engine struct {
	ledger  inventory.Ledger
	orders  orders.Store
	index   orders.Index
	gateway payment.Gateway
	events  Events
	pricer  Pricer
	log     *slog.Logger

	holdTTL  time.Duration
	currency string
	now      func() time.Time
	newID    func() string

	retryDelay time.Duration
}

func NewEngine(d Deps) *Engine {
	e := &Engine{
		ledger:   d.Ledger,
		orders:   d.Orders,
		index:    d.Index,
		gateway:  d.Gateway,
		events:   d.Events,
		pricer:   d.Pricer,
		log:      d.Log,
		holdTTL:  d.HoldTTL,
		currency: strings.ToLower(d.Currency),
		now:      d.Now,
		newID:    d.NewID,

		retryDelay: time.Second,
	}
	if e.events == nil {
		e.events = noEvents{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.holdTTL <= 0 {
		e.holdTTL = 30 * time.Minute
	}
	if e.currency == "" {
		e.currency = "usd"
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

// SideEffect is the outcome of a best-effort step. A non-nil Err did not fail the main
// operation; the step was queued for retry.
type SideEffect struct {
	Name string
	Err  error
}

type Result struct {
	Order           orders.Order
	ClientSecret    string
	PaymentIntentID string
	SideEffects     []SideEffect
}

// Failed returns the side effects that did not complete.
func (r Result) Failed() []SideEffect { return failed(r.SideEffects) }

// CreateOrder validates the request, reserves stock for every line and stores the order.
// Card orders also get a payment intent whose client secret is returned.
func (e *Engine) CreateOrder(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "checkout.CreateOrder",
		trace.WithAttributes(attribute.String("payment.method", string(req.PaymentMethod))))
	defer span.End()

	res, err := e.createOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		return Result{}, err
	}
	span.SetAttributes(attribute.String("order.id", res.Order.ID))
	return res, nil
}

func (e *Engine) createOrder(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	items := mergeItems(req.Items)
	if err := e.checkPrices(ctx, items, req.SubtotalCents); err != nil {
		return Result{}, err
	}

	orderID := e.newID()
	log := e.log.With("order_id", orderID, "user_id", req.UserID)

	var expiresAt time.Time
	if req.PaymentMethod.RequiresConfirmation() {
		expiresAt = e.now().Add(e.holdTTL)
	}
	if err := e.reserveAll(ctx, orderID, items, expiresAt); err != nil {
		return Result{}, err
	}

	o := orders.Order{
		ID:              orderID,
		UserID:          req.UserID,
		LineItems:       items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   orders.PaymentPending,
		Status:          orders.StatusPending,
		SubtotalCents:   req.SubtotalCents,
		ShippingCents:   req.ShippingCents,
		TotalCents:      req.TotalCents,
		Currency:        e.currencyOr(req.Currency),
		Notes:           req.Notes,
	}
	if err := e.orders.Create(ctx, o); err != nil {
		e.releaseAfterFailure(ctx, log, orderID)
		return Result{}, &PersistenceError{Op: "create order", Err: err}
	}
	log.Info("order created", "payment_method", req.PaymentMethod, "total_cents", req.TotalCents)

	res := Result{Order: o}
	if !req.PaymentMethod.RequiresConfirmation() {
		res.SideEffects = append(res.SideEffects, e.bestEffort(ctx, log, "commit_holds",
			orders.FollowupTask{Kind: orders.FollowupCommitHolds, OrderID: orderID},
			func(ctx context.Context) error { return e.ledger.Commit(ctx, orderID) }))
	}
	res.SideEffects = append(res.SideEffects, e.bestEffort(ctx, log, "index_append",
		orders.FollowupTask{Kind: orders.FollowupIndexAppend, OrderID: orderID, UserID: req.UserID},
		func(ctx context.Context) error { return e.index.Append(ctx, req.UserID, orderID) }))

	if req.PaymentMethod.RequiresConfirmation() {
		intent, err := e.startPayment(ctx, log, o, req)
		if err != nil {
			return Result{}, err
		}
		res.ClientSecret = intent.ClientSecret
		res.PaymentIntentID = intent.ID
		// Until the ref is attached the intent metadata still names the order.
		var bound orders.Order
		res.SideEffects = append(res.SideEffects, e.bestEffort(ctx, log, "attach_intent",
			orders.FollowupTask{Kind: orders.FollowupAttachIntent, OrderID: orderID, IntentID: intent.ID},
			func(ctx context.Context) (err error) {
				bound, err = e.orders.SetPaymentRef(ctx, orderID, intent.ID)
				return err
			}))
		if bound.ID != "" {
			res.Order = bound
		} else {
			res.Order.ExternalPaymentRef = intent.ID
		}
	}
	if res.Order.CreatedAt.IsZero() {
		if stored, err := e.orders.Get(ctx, orderID); err == nil {
			res.Order = stored
		}
	}

	e.emit(ctx, log, orders.TopicOrderCreated, orders.EventOrderCreated, orderID, orders.OrderCreatedPayload{
		OrderID:       orderID,
		UserID:        req.UserID,
		PaymentMethod: string(req.PaymentMethod),
		Items:         items,
		TotalCents:    req.TotalCents,
	})
	return res, nil
}

func (e *Engine) checkPrices(ctx context.Context, items []orders.LineItem, subtotal int64) error {
	if e.pricer == nil {
		return nil
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	prices, err := e.pricer.UnitPrices(ctx, ids)
	if err != nil {
		return &PersistenceError{Op: "load prices", Err: err}
	}
	var want int64
	for i, it := range items {
		p, ok := prices[it.ProductID]
		if !ok {
			return &ValidationError{Field: fmt.Sprintf("cartItems[%d].product", i), Reason: fmt.Sprintf("unknown product %s", it.ProductID)}
		}
		want += p * int64(it.Quantity)
	}
	if want != subtotal {
		return &ValidationError{Field: "subtotal", Reason: fmt.Sprintf("does not match current prices (expected %d)", want)}
	}
	return nil
}

// reserveAll reserves every line under orderID. On the first shortage it stops reserving,
// reports the availability of the remaining lines, and releases what was granted.
func (e *Engine) reserveAll(ctx context.Context, orderID string, items []orders.LineItem, expiresAt time.Time) error {
	var shortages []inventory.InsufficientStockError
	for i, it := range items {
		if len(shortages) > 0 {
			if n, err := e.ledger.Available(ctx, it.ProductID); err == nil && n < it.Quantity {
				shortages = append(shortages, inventory.InsufficientStockError{ProductID: it.ProductID, Requested: it.Quantity, Available: n})
			}
			continue
		}

		err := e.ledger.Reserve(ctx, orderID, it.ProductID, it.Quantity, expiresAt)
		var short *inventory.InsufficientStockError
		switch {
		case err == nil:
			continue
		case errors.As(err, &short):
			shortages = append(shortages, *short)
			continue
		}

		e.releaseAfterFailure(ctx, e.log.With("order_id", orderID), orderID)
		if errors.Is(err, inventory.ErrUnknownProduct) {
			return &ValidationError{Field: fmt.Sprintf("cartItems[%d].product", i), Reason: fmt.Sprintf("unknown product %s", it.ProductID)}
		}
		return &PersistenceError{Op: "reserve stock", Err: err}
	}
	if len(shortages) == 0 {
		return nil
	}
	e.releaseAfterFailure(ctx, e.log.With("order_id", orderID), orderID)
	return &StockError{Shortages: shortages}
}

// startPayment creates the intent for a stored card order. If the processor refuses, the
// order is canceled and its holds released before the error is returned.
func (e *Engine) startPayment(ctx context.Context, log *slog.Logger, o orders.Order, req Request) (payment.Intent, error) {
	md := payment.Metadata{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Items:         toPaymentItems(o.LineItems),
		SubtotalCents: o.SubtotalCents,
		ShippingCents: o.ShippingCents,
	}
	if req.CustomerEmail != "" {
		md.Extra = map[string]string{"customerEmail": req.CustomerEmail}
	}
	intent, err := e.gateway.CreateIntent(ctx, o.TotalCents, o.Currency, md)
	if err == nil {
		return intent, nil
	}

	log.Error("create payment intent failed", "err", err)
	cctx, cancel := cleanupContext(ctx)
	defer cancel()
	if _, terr := e.orders.Transition(cctx, o.ID, orders.StatePending, orders.StateCanceled); terr != nil {
		log.Error("cancel order after intent failure", "err", terr)
	}
	e.releaseAfterFailure(ctx, log, o.ID)

	var apiErr *payment.APIError
	clientFault := errors.Is(err, payment.ErrInvalidAmount) || (errors.As(err, &apiErr) && apiErr.ClientFault)
	return payment.Intent{}, &PaymentGatewayError{Op: "create intent", ClientFault: clientFault, Err: err}
}

// CreateIntent starts a standalone payment. When md names an order owned by the same user,
// the intent is bound to it: the amount and currency must match the order, and an intent the
// order was bound to before is canceled at the processor.
func (e *Engine) CreateIntent(ctx context.Context, amountMinor int64, currency string, md payment.Metadata) (payment.Intent, []SideEffect, error) {
	ctx, span := tracer.Start(ctx, "checkout.CreateIntent")
	defer span.End()

	if amountMinor <= 0 {
		return payment.Intent{}, nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	currency = e.currencyOr(currency)

	var (
		bindTo   *orders.Order
		previous payment.Intent
	)
	if md.OrderID != "" {
		o, err := e.orders.Get(ctx, md.OrderID)
		switch {
		case errors.Is(err, orders.ErrNotFound):
			return payment.Intent{}, nil, &ValidationError{Field: "orderId", Reason: "order not found"}
		case err != nil:
			return payment.Intent{}, nil, &PersistenceError{Op: "load order", Err: err}
		case md.UserID != "" && o.UserID != md.UserID:
			return payment.Intent{}, nil, &ValidationError{Field: "orderId", Reason: "order belongs to another user"}
		case o.State() != orders.StatePending:
			return payment.Intent{}, nil, &ValidationError{Field: "orderId", Reason: fmt.Sprintf("order is %s", o.State())}
		case amountMinor != o.TotalCents:
			return payment.Intent{}, nil, &ValidationError{Field: "amount", Reason: fmt.Sprintf("must equal the order total %d", o.TotalCents)}
		case o.Currency != "" && !strings.EqualFold(o.Currency, currency):
			return payment.Intent{}, nil, &ValidationError{Field: "currency", Reason: fmt.Sprintf("order is priced in %s", o.Currency)}
		}
		if o.ExternalPaymentRef != "" {
			prev, err := e.gateway.RetrieveIntent(ctx, o.ExternalPaymentRef)
			if err != nil {
				return payment.Intent{}, nil, &PaymentGatewayError{Op: "retrieve intent", Err: err}
			}
			if prev.Status == payment.IntentSucceeded || prev.Status == payment.IntentRequiresAction || prev.Status.InFlight() {
				return payment.Intent{}, nil, &ValidationError{Field: "orderId", Reason: "order already has a payment in progress"}
			}
			previous = prev
		}
		if md.UserID == "" {
			md.UserID = o.UserID
		}
		md.Items = toPaymentItems(o.LineItems)
		md.SubtotalCents, md.ShippingCents = o.SubtotalCents, o.ShippingCents
		bindTo = &o
	} else if err := e.checkIntentCovers(ctx, amountMinor, md); err != nil {
		return payment.Intent{}, nil, err
	}

	intent, err := e.gateway.CreateIntent(ctx, amountMinor, currency, md)
	if err != nil {
		span.RecordError(err)
		var apiErr *payment.APIError
		clientFault := errors.Is(err, payment.ErrInvalidAmount) || (errors.As(err, &apiErr) && apiErr.ClientFault)
		return payment.Intent{}, nil, &PaymentGatewayError{Op: "create intent", ClientFault: clientFault, Err: err}
	}
	if bindTo == nil {
		return intent, nil, nil
	}

	log := e.log.With("order_id", bindTo.ID, "intent_id", intent.ID)
	effects := []SideEffect{e.bestEffort(ctx, log, "attach_intent",
		orders.FollowupTask{Kind: orders.FollowupAttachIntent, OrderID: bindTo.ID, IntentID: intent.ID},
		func(ctx context.Context) error {
			_, err := e.orders.SetPaymentRef(ctx, bindTo.ID, intent.ID)
			return err
		})}
	if previous.ID != "" && previous.Status != payment.IntentCanceled {
		effects = append(effects, e.cancelReplaced(ctx, log, bindTo.ID, previous.ID))
	}
	return intent, failed(effects), nil
}

// cancelReplaced cancels an intent the order is no longer bound to.
func (e *Engine) cancelReplaced(ctx context.Context, log *slog.Logger, orderID, intentID string) SideEffect {
	return e.bestEffort(ctx, log, "cancel_intent",
		orders.FollowupTask{Kind: orders.FollowupCancelIntent, OrderID: orderID, IntentID: intentID},
		func(ctx context.Context) error {
			_, err := e.gateway.CancelIntent(ctx, intentID)
			return err
		})
}

// checkIntentCovers rejects a standalone intent whose amount is below the current price of
// the items it names. Without a pricer or items there is nothing to check.
func (e *Engine) checkIntentCovers(ctx context.Context, amountMinor int64, md payment.Metadata) error {
	if e.pricer == nil || len(md.Items) == 0 {
		return nil
	}
	subtotal, err := e.priceItems(ctx, md.Items)
	if err != nil {
		return err
	}
	if amountMinor < subtotal+md.ShippingCents {
		return &ValidationError{Field: "amount", Reason: fmt.Sprintf("does not cover the items (expected at least %d)", subtotal+md.ShippingCents)}
	}
	return nil
}

// priceItems sums current prices for items.
func (e *Engine) priceItems(ctx context.Context, items []payment.Item) (int64, error) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	prices, err := e.pricer.UnitPrices(ctx, ids)
	if err != nil {
		return 0, &PersistenceError{Op: "load prices", Err: err}
	}
	var sum int64
	for i, it := range items {
		p, ok := prices[it.ProductID]
		if !ok {
			return 0, &ValidationError{Field: fmt.Sprintf("metadata.cartItems[%d]", i), Reason: fmt.Sprintf("unknown product %s", it.ProductID)}
		}
		sum += p * int64(it.Quantity)
	}
	return sum, nil
}

// releaseAfterFailure returns the order's holds even if the request context is already
// canceled. A failed release is queued for the worker.
func (e *Engine) releaseAfterFailure(ctx context.Context, log *slog.Logger, orderID string) {
	cctx, cancel := cleanupContext(ctx)
	defer cancel()
	units, err := e.ledger.Release(cctx, orderID)
	if err == nil {
		if units > 0 {
			log.Info("holds released", "units", units)
		}
		return
	}
	log.Error("release holds failed", "err", err)
	if qerr := e.events.Enqueue(cctx, orders.FollowupTask{Kind: orders.FollowupReleaseHolds, OrderID: orderID}); qerr != nil {
		log.Error("queue release followup failed", "err", qerr)
	}
}

// bestEffort runs fn, and on failure logs it and queues task for retry.
func (e *Engine) bestEffort(ctx context.Context, log *slog.Logger, name string, task orders.FollowupTask, fn func(context.Context) error) SideEffect {
	err := fn(ctx)
	if err == nil {
		return SideEffect{Name: name}
	}
	log.Warn("best-effort step failed", "step", name, "err", err)
	cctx, cancel := cleanupContext(ctx)
	defer cancel()
	if qerr := e.events.Enqueue(cctx, task); qerr != nil {
		log.Error("queue followup failed", "step", name, "err", qerr)
	}
	return SideEffect{Name: name, Err: err}
}

func (e *Engine) emit(ctx context.Context, log *slog.Logger, topic, eventType, orderID string, payload any) {
	if err := e.events.Emit(ctx, topic, eventType, orderID, payload); err != nil {
		log.Warn("publish event failed", "event_type", eventType, "err", err)
	}
}

func (e *Engine) currencyOr(c string) string {
	if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
		return c
	}
	return e.currency
}

func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

func toPaymentItems(items []orders.LineItem) []payment.Item {
	out := make([]payment.Item, 0, len(items))
	for _, it := range items {
		out = append(out, payment.Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

func failed(effects []SideEffect) []SideEffect {
	var out []SideEffect
	for _, se := range effects {
		if se.Err != nil {
			out = append(out, se)
		}
	}
	return out
}

type noEvents struct{}

func (noEvents) Emit(context.Context, string, string, string, any) error { return nil }
func (noEvents) Enqueue(context.Context, orders.FollowupTask) error      { return nil }
