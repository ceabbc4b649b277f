package checkout

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payment"
)

type Outcome string

const (
	// OutcomeApplied: the event moved the order forward.
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop: the order was already in the target state or past it.
	OutcomeNoop Outcome = "noop"
	// OutcomeIgnored: the event does not concern any order this service can act on.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeSynthesized: no order existed, one was rebuilt from the intent metadata.
	OutcomeSynthesized Outcome = "synthesized"
	// OutcomeReview: the payment does not cover the order. The order is left as it was and
	// the charge needs a refund or manual review.
	OutcomeReview Outcome = "review"
)

type FinalizeResult struct {
	Outcome     Outcome
	Order       orders.Order
	SideEffects []SideEffect
}

func (r FinalizeResult) Failed() []SideEffect { return failed(r.SideEffects) }

const maxTransitionAttempts = 3

// Finalize applies a verified payment event to its order. It is safe to call repeatedly
// with the same event and never moves an order backwards.
func (e *Engine) Finalize(ctx context.Context, evt payment.Event) (FinalizeResult, error) {
	ctx, span := tracer.Start(ctx, "checkout.Finalize", trace.WithAttributes(
		attribute.String("payment.event_id", evt.ID),
		attribute.String("payment.event_kind", string(evt.Kind)),
		attribute.String("payment.intent_id", evt.Intent.ID),
	))
	defer span.End()

	res, err := e.finalize(ctx, evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		return res, err
	}
	span.SetAttributes(attribute.String("finalize.outcome", string(res.Outcome)))
	return res, nil
}

func (e *Engine) finalize(ctx context.Context, evt payment.Event) (FinalizeResult, error) {
	target, ok := targetState(evt.Kind)
	if !ok {
		e.log.Debug("payment event ignored", "event_id", evt.ID, "type", evt.Type)
		return FinalizeResult{Outcome: OutcomeIgnored}, nil
	}
	log := e.log.With("event_id", evt.ID, "intent_id", evt.Intent.ID, "kind", evt.Kind)

	o, err := e.locate(ctx, evt.Intent)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		if evt.Kind != payment.EventSucceeded {
			log.Info("no order for payment event")
			return FinalizeResult{Outcome: OutcomeIgnored}, nil
		}
		return e.synthesize(ctx, log, evt)
	case errors.Is(err, errOwnerMismatch):
		log.Error("intent metadata user does not own the referenced order", "order_id", evt.Intent.Metadata.OrderID, "metadata_user", evt.Intent.Metadata.UserID)
		return FinalizeResult{Outcome: OutcomeIgnored}, nil
	case err != nil:
		return FinalizeResult{}, &PersistenceError{Op: "locate order", Err: err}
	}

	log = log.With("order_id", o.ID)
	if o.ExternalPaymentRef != evt.Intent.ID {
		return e.bind(ctx, log, o, target, evt.Intent)
	}
	return e.apply(ctx, log, o, target, evt.Intent)
}

func targetState(kind payment.EventKind) (orders.State, bool) {
	switch kind {
	case payment.EventSucceeded:
		return orders.StatePaid, true
	case payment.EventFailed:
		return orders.StateFailed, true
	case payment.EventCanceled:
		return orders.StateCanceled, true
	}
	return orders.State{}, false
}

// locate finds the order by intent id, then by the order id in the intent metadata.
func (e *Engine) locate(ctx context.Context, in payment.Intent) (orders.Order, error) {
	o, err := e.orders.GetByPaymentRef(ctx, in.ID)
	if !errors.Is(err, orders.ErrNotFound) {
		return o, err
	}
	if in.Metadata.OrderID == "" {
		return orders.Order{}, orders.ErrNotFound
	}
	o, err = e.orders.Get(ctx, in.Metadata.OrderID)
	if err != nil {
		return orders.Order{}, err
	}
	if in.Metadata.UserID != "" && in.Metadata.UserID != o.UserID {
		return orders.Order{}, errOwnerMismatch
	}
	return o, nil
}

// bind handles an event for an intent the order was found for through metadata. Only a
// succeeded payment may take over an order that is bound to another intent; the replaced
// intent is then canceled at the processor.
func (e *Engine) bind(ctx context.Context, log *slog.Logger, o orders.Order, target orders.State, in payment.Intent) (FinalizeResult, error) {
	previous := o.ExternalPaymentRef
	if previous != "" && target != orders.StatePaid {
		log.Info("event for a replaced intent", "bound_intent_id", previous)
		return FinalizeResult{Outcome: OutcomeNoop, Order: o}, nil
	}
	if target == orders.StatePaid && o.State() != orders.StatePaid && !covers(o, in) {
		return e.review(log, o, in), nil
	}

	bound, err := e.orders.SetPaymentRef(ctx, o.ID, in.ID)
	switch {
	case errors.Is(err, orders.ErrPaymentRefConflict):
		if target == orders.StatePaid {
			log.Error("payment succeeded for an order bound to another intent; refund required", "bound_intent_id", previous)
		}
		return FinalizeResult{Outcome: OutcomeNoop, Order: o}, nil
	case err != nil:
		return FinalizeResult{}, &PersistenceError{Op: "attach payment ref", Err: err}
	}
	log.Info("payment ref attached from metadata", "replaced_intent_id", previous)

	res, err := e.apply(ctx, log, bound, target, in)
	if err == nil && previous != "" && res.Outcome == OutcomeApplied {
		res.SideEffects = append(res.SideEffects, e.cancelReplaced(ctx, log, o.ID, previous))
	}
	return res, err
}

// covers reports whether a succeeded intent pays for the whole order.
func covers(o orders.Order, in payment.Intent) bool {
	if in.AmountMinor < o.TotalCents {
		return false
	}
	return o.Currency == "" || in.Currency == "" || strings.EqualFold(o.Currency, in.Currency)
}

func (e *Engine) review(log *slog.Logger, o orders.Order, in payment.Intent) FinalizeResult {
	log.Error("payment does not cover the order; refund or review required",
		"amount", in.AmountMinor, "currency", in.Currency,
		"total_cents", o.TotalCents, "order_currency", o.Currency, "state", o.State().String())
	return FinalizeResult{Outcome: OutcomeReview, Order: o}
}

// apply moves o to target and runs the stock and notification steps that go with it.
func (e *Engine) apply(ctx context.Context, log *slog.Logger, o orders.Order, target orders.State, in payment.Intent) (FinalizeResult, error) {
	if target == orders.StatePaid && o.State() != orders.StatePaid && !covers(o, in) {
		return e.review(log, o, in), nil
	}
	for attempt := 0; ; attempt++ {
		if o.State() == target {
			return FinalizeResult{Outcome: OutcomeNoop, Order: o}, nil
		}
		if !orders.CanMove(o.State(), target) {
			if target == orders.StatePaid && (o.PaymentStatus == orders.PaymentFailed || o.PaymentStatus == orders.PaymentCanceled) {
				log.Error("payment succeeded for a closed order; refund required", "state", o.State().String())
			} else {
				log.Info("stale payment event", "state", o.State().String(), "target", target.String())
			}
			return FinalizeResult{Outcome: OutcomeNoop, Order: o}, nil
		}

		moved, err := e.orders.Transition(ctx, o.ID, o.State(), target)
		if err == nil {
			o = moved
			break
		}
		if !errors.Is(err, orders.ErrStaleTransition) || attempt+1 >= maxTransitionAttempts {
			return FinalizeResult{}, &PersistenceError{Op: "transition order", Err: err}
		}
		if o, err = e.orders.Get(ctx, o.ID); err != nil {
			return FinalizeResult{}, &PersistenceError{Op: "reload order", Err: err}
		}
	}
	log.Info("order finalized", "state", o.State().String())

	res := FinalizeResult{Outcome: OutcomeApplied, Order: o}
	switch target {
	case orders.StatePaid:
		if in.AmountMinor > o.TotalCents {
			log.Warn("paid amount exceeds order total", "amount", in.AmountMinor, "total_cents", o.TotalCents)
		}
		res.SideEffects = append(res.SideEffects,
			e.bestEffort(ctx, log, "commit_holds",
				orders.FollowupTask{Kind: orders.FollowupCommitHolds, OrderID: o.ID},
				func(ctx context.Context) error { return e.ledger.Commit(ctx, o.ID) }),
			e.attachReceipt(ctx, log, o.ID, in.ID),
		)
		e.emit(ctx, log, orders.TopicOrderPaid, orders.EventOrderPaid, o.ID, orders.OrderPaidPayload{
			OrderID: o.ID, PaymentRef: in.ID, AmountCents: o.TotalCents,
		})
	case orders.StateFailed:
		res.SideEffects = append(res.SideEffects, e.releaseEffect(ctx, log, o.ID))
		e.emit(ctx, log, orders.TopicOrderPaymentFailed, orders.EventOrderPaymentFailed, o.ID, orders.OrderPaymentFailedPayload{
			OrderID: o.ID, PaymentRef: in.ID, Reason: in.FailureMessage,
		})
	case orders.StateCanceled:
		res.SideEffects = append(res.SideEffects, e.releaseEffect(ctx, log, o.ID))
		e.emit(ctx, log, orders.TopicOrderCanceled, orders.EventOrderCanceled, o.ID, orders.OrderCanceledPayload{
			OrderID: o.ID, PaymentRef: in.ID, Reason: "processor_canceled",
		})
	}
	return res, nil
}

func (e *Engine) releaseEffect(ctx context.Context, log *slog.Logger, orderID string) SideEffect {
	return e.bestEffort(ctx, log, "release_holds",
		orders.FollowupTask{Kind: orders.FollowupReleaseHolds, OrderID: orderID},
		func(ctx context.Context) error {
			units, err := e.ledger.Release(ctx, orderID)
			if err == nil && units > 0 {
				log.Info("holds released", "units", units)
			}
			return err
		})
}

func (e *Engine) attachReceipt(ctx context.Context, log *slog.Logger, orderID, intentID string) SideEffect {
	return e.bestEffort(ctx, log, "attach_receipt",
		orders.FollowupTask{Kind: orders.FollowupAttachReceipt, OrderID: orderID, IntentID: intentID},
		func(ctx context.Context) error { return e.storeReceipt(ctx, orderID, intentID) })
}

func (e *Engine) storeReceipt(ctx context.Context, orderID, intentID string) error {
	url, err := e.gateway.ReceiptURL(ctx, intentID)
	if err != nil {
		return err
	}
	if url == "" {
		return errReceiptPending
	}
	return e.orders.SetReceiptURL(ctx, orderID, url)
}

// synthesize records a paid order for a confirmed intent that has none. The payment has
// already been taken, so stock is committed best-effort and shortages are only logged.
func (e *Engine) synthesize(ctx context.Context, log *slog.Logger, evt payment.Event) (FinalizeResult, error) {
	in := evt.Intent
	md := in.Metadata
	if md.UserID == "" {
		err := &SynthesizedOrderError{IntentID: in.ID, Reason: "metadata has no user", Err: evt.MetadataErr}
		log.Error("cannot synthesize order", "err", err)
		return FinalizeResult{Outcome: OutcomeIgnored}, err
	}
	if len(md.Items) == 0 {
		err := &SynthesizedOrderError{IntentID: in.ID, Reason: "metadata has no cart items", Err: evt.MetadataErr}
		log.Error("cannot synthesize order", "err", err)
		return FinalizeResult{Outcome: OutcomeIgnored}, err
	}
	if in.AmountMinor <= 0 {
		err := &SynthesizedOrderError{IntentID: in.ID, Reason: "intent has no amount"}
		log.Error("cannot synthesize order", "err", err)
		return FinalizeResult{Outcome: OutcomeIgnored}, err
	}

	if e.pricer != nil {
		priced, err := e.priceItems(ctx, md.Items)
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			serr := &SynthesizedOrderError{IntentID: in.ID, Reason: verr.Reason}
			log.Error("cannot synthesize order; refund or review required", "err", serr)
			return FinalizeResult{Outcome: OutcomeReview}, serr
		case err != nil:
			return FinalizeResult{}, err
		case in.AmountMinor < priced+md.ShippingCents:
			serr := &SynthesizedOrderError{IntentID: in.ID, Reason: "charged amount does not cover the items"}
			log.Error("cannot synthesize order; refund or review required", "err", serr,
				"amount", in.AmountMinor, "priced_cents", priced+md.ShippingCents)
			return FinalizeResult{Outcome: OutcomeReview}, serr
		}
	}

	orderID := md.OrderID
	if _, err := uuid.Parse(orderID); err != nil {
		orderID = e.newID()
	}
	log = log.With("order_id", orderID, "user_id", md.UserID)

	items := make([]orders.LineItem, 0, len(md.Items))
	for _, it := range md.Items {
		items = append(items, orders.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	items = mergeItems(items)

	// Keep total == subtotal + shipping with the charged amount as the total.
	shipping := md.ShippingCents
	if shipping > in.AmountMinor {
		shipping = 0
	}
	o := orders.Order{
		ID:                 orderID,
		UserID:             md.UserID,
		LineItems:          items,
		PaymentMethod:      orders.PaymentStripe,
		PaymentStatus:      orders.PaymentPaid,
		Status:             orders.StatusProcessing,
		SubtotalCents:      in.AmountMinor - shipping,
		ShippingCents:      shipping,
		TotalCents:         in.AmountMinor,
		Currency:           e.currencyOr(in.Currency),
		ExternalPaymentRef: in.ID,
		Notes:              "recorded from payment confirmation",
	}
	if md.SubtotalCents != 0 && md.SubtotalCents != o.SubtotalCents {
		log.Warn("intent metadata totals do not match the charged amount", "subtotal", md.SubtotalCents, "amount", in.AmountMinor)
	}

	if err := e.orders.Create(ctx, o); err != nil {
		if errors.Is(err, orders.ErrAlreadyExists) {
			// A concurrent delivery got there first.
			existing, lerr := e.orders.GetByPaymentRef(ctx, in.ID)
			if lerr != nil {
				return FinalizeResult{}, &PersistenceError{Op: "reload synthesized order", Err: lerr}
			}
			return FinalizeResult{Outcome: OutcomeNoop, Order: existing}, nil
		}
		return FinalizeResult{}, &PersistenceError{Op: "create synthesized order", Err: err}
	}
	log.Warn("order synthesized from payment metadata", "total_cents", o.TotalCents)

	res := FinalizeResult{Outcome: OutcomeSynthesized, Order: o}
	e.takeStock(ctx, log, orderID, items)
	res.SideEffects = append(res.SideEffects,
		e.bestEffort(ctx, log, "commit_holds",
			orders.FollowupTask{Kind: orders.FollowupCommitHolds, OrderID: orderID},
			func(ctx context.Context) error { return e.ledger.Commit(ctx, orderID) }),
		e.bestEffort(ctx, log, "index_append",
			orders.FollowupTask{Kind: orders.FollowupIndexAppend, OrderID: orderID, UserID: md.UserID},
			func(ctx context.Context) error { return e.index.Append(ctx, md.UserID, orderID) }),
		e.attachReceipt(ctx, log, orderID, in.ID),
	)
	if stored, err := e.orders.Get(ctx, orderID); err == nil {
		res.Order = stored
	}
	e.emit(ctx, log, orders.TopicOrderPaid, orders.EventOrderPaid, orderID, orders.OrderPaidPayload{
		OrderID: orderID, PaymentRef: in.ID, AmountCents: o.TotalCents, Synthesized: true,
	})
	return res, nil
}

// takeStock reserves what it can for a sale that already happened.
func (e *Engine) takeStock(ctx context.Context, log *slog.Logger, orderID string, items []orders.LineItem) {
	for _, it := range items {
		err := e.ledger.Reserve(ctx, orderID, it.ProductID, it.Quantity, time.Time{})
		var short *inventory.InsufficientStockError
		switch {
		case err == nil:
		case errors.As(err, &short):
			log.Error("oversold on synthesized order", "product_id", it.ProductID, "requested", short.Requested, "available", short.Available)
		default:
			log.Error("reserve for synthesized order failed", "product_id", it.ProductID, "err", err)
		}
	}
}
