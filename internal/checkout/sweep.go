package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/payment"
)

type SweepReport struct {
	Scanned   int
	Committed int
	Released  int
	Finalized int
	Skipped   int
}

// SweepExpiredHolds settles orders whose stock holds outlived the hold TTL. Each order is
// checked against the processor before its stock is returned, so a payment that succeeded
// without a webhook still completes.
func (e *Engine) SweepExpiredHolds(ctx context.Context, limit int) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "checkout.SweepExpiredHolds")
	defer span.End()

	ids, err := e.ledger.Expired(ctx, e.now(), limit)
	if err != nil {
		span.RecordError(err)
		return SweepReport{}, &PersistenceError{Op: "list expired holds", Err: err}
	}
	var rep SweepReport
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		rep.Scanned++
		e.settleHold(ctx, e.log.With("order_id", id), id, &rep)
	}
	span.SetAttributes(
		attribute.Int("sweep.scanned", rep.Scanned),
		attribute.Int("sweep.released", rep.Released),
		attribute.Int("sweep.finalized", rep.Finalized),
	)
	return rep, nil
}

func (e *Engine) settleHold(ctx context.Context, log *slog.Logger, orderID string, rep *SweepReport) {
	o, err := e.orders.Get(ctx, orderID)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		// Holds without an order: checkout died between reserving and storing.
		e.sweepRelease(ctx, log, orderID, rep)
		return
	case err != nil:
		log.Warn("sweep: load order failed", "err", err)
		rep.Skipped++
		return
	}

	switch o.PaymentStatus {
	case orders.PaymentPaid:
		if err := e.ledger.Commit(ctx, orderID); err != nil {
			log.Warn("sweep: commit failed", "err", err)
			rep.Skipped++
			return
		}
		rep.Committed++
		return
	case orders.PaymentFailed, orders.PaymentCanceled:
		e.sweepRelease(ctx, log, orderID, rep)
		return
	}

	if !o.PaymentMethod.RequiresConfirmation() {
		if err := e.ledger.Commit(ctx, orderID); err != nil {
			log.Warn("sweep: commit failed", "err", err)
			rep.Skipped++
			return
		}
		rep.Committed++
		return
	}

	in, err := e.sweepIntent(ctx, log, &o)
	switch {
	case errors.Is(err, payment.ErrIntentNotFound):
		e.expire(ctx, log, o, payment.Intent{}, rep)
		return
	case err != nil:
		log.Warn("sweep: load intent failed", "intent_id", o.ExternalPaymentRef, "err", err)
		rep.Skipped++
		return
	}
	switch {
	case in.Status == payment.IntentSucceeded:
		res, err := e.apply(ctx, log, o, orders.StatePaid, in)
		if err != nil {
			log.Warn("sweep: finalize paid order failed", "err", err)
			rep.Skipped++
			return
		}
		if res.Outcome == OutcomeReview {
			rep.Skipped++
			return
		}
		rep.Finalized++
	case in.Status.InFlight():
		log.Info("sweep: payment still in flight", "intent_status", in.Status)
		rep.Skipped++
	case in.Status == payment.IntentCanceled:
		e.expire(ctx, log, o, in, rep)
	default:
		canceled, err := e.gateway.CancelIntent(ctx, in.ID)
		if err != nil {
			// Most likely the customer completed payment meanwhile; the next sweep will see it.
			log.Warn("sweep: cancel intent failed", "intent_id", in.ID, "err", err)
			rep.Skipped++
			return
		}
		e.expire(ctx, log, o, canceled, rep)
	}
}

// sweepIntent loads the intent of o. An order whose ref was never attached is looked up
// through the intent metadata and bound to what is found.
func (e *Engine) sweepIntent(ctx context.Context, log *slog.Logger, o *orders.Order) (payment.Intent, error) {
	if o.ExternalPaymentRef != "" {
		return e.gateway.RetrieveIntent(ctx, o.ExternalPaymentRef)
	}
	in, err := e.gateway.FindIntentByOrder(ctx, o.ID)
	if err != nil {
		return payment.Intent{}, err
	}
	bound, err := e.orders.SetPaymentRef(ctx, o.ID, in.ID)
	if err != nil {
		log.Warn("sweep: attach payment ref failed", "intent_id", in.ID, "err", err)
		return in, nil
	}
	log.Info("sweep: payment ref attached", "intent_id", in.ID)
	*o = bound
	return in, nil
}

// expire cancels a pending order whose payment never completed and returns its stock.
func (e *Engine) expire(ctx context.Context, log *slog.Logger, o orders.Order, in payment.Intent, rep *SweepReport) {
	if _, err := e.orders.Transition(ctx, o.ID, o.State(), orders.StateCanceled); err != nil {
		log.Warn("sweep: cancel order failed", "err", err)
		rep.Skipped++
		return
	}
	log.Info("order canceled after hold expiry")
	e.sweepRelease(ctx, log, o.ID, rep)
	e.emit(ctx, log, orders.TopicOrderCanceled, orders.EventOrderCanceled, o.ID, orders.OrderCanceledPayload{
		OrderID: o.ID, PaymentRef: in.ID, Reason: "hold_expired",
	})
}

func (e *Engine) sweepRelease(ctx context.Context, log *slog.Logger, orderID string, rep *SweepReport) {
	units, err := e.ledger.Release(ctx, orderID)
	if err != nil {
		log.Warn("sweep: release failed", "err", err)
		rep.Skipped++
		return
	}
	log.Info("sweep: holds released", "units", units)
	rep.Released++
}

// Sweeper runs SweepExpiredHolds on a fixed interval until its context ends.
type Sweeper struct {
	Engine   *Engine
	Interval time.Duration
	Batch    int
	Log      *slog.Logger
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Log.Info("hold sweeper started", "interval", s.Interval, "batch", s.Batch)
	for {
		select {
		case <-ctx.Done():
			s.Log.Info("hold sweeper stopped")
			return
		case <-ticker.C:
			rep, err := s.Engine.SweepExpiredHolds(ctx, s.Batch)
			if err != nil {
				s.Log.Error("sweep failed", "err", err)
				continue
			}
			if rep.Scanned > 0 {
				s.Log.Info("sweep done", "scanned", rep.Scanned, "committed", rep.Committed,
					"released", rep.Released, "finalized", rep.Finalized, "skipped", rep.Skipped)
			}
		}
	}
}
