package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// MaxFollowupAttempts bounds how often a failed follow-up is re-queued.
const MaxFollowupAttempts = 5

// RunFollowup performs one queued best-effort step. Every kind is idempotent.
func (e *Engine) RunFollowup(ctx context.Context, task orders.FollowupTask) error {
	switch task.Kind {
	case orders.FollowupIndexAppend:
		return e.index.Append(ctx, task.UserID, task.OrderID)
	case orders.FollowupReleaseHolds:
		_, err := e.ledger.Release(ctx, task.OrderID)
		return err
	case orders.FollowupCommitHolds:
		return e.ledger.Commit(ctx, task.OrderID)
	case orders.FollowupAttachReceipt:
		return e.storeReceipt(ctx, task.OrderID, task.IntentID)
	case orders.FollowupAttachIntent:
		_, err := e.orders.SetPaymentRef(ctx, task.OrderID, task.IntentID)
		if errors.Is(err, orders.ErrPaymentRefConflict) {
			e.log.Warn("followup: order bound to another intent", "order_id", task.OrderID, "intent_id", task.IntentID)
			return nil
		}
		return err
	case orders.FollowupCancelIntent:
		_, err := e.gateway.CancelIntent(ctx, task.IntentID)
		return err
	}
	return fmt.Errorf("unknown followup kind %q", task.Kind)
}

// HandleFollowup is the consumer handler for the follow-up topic. A failed task is
// re-queued with its attempt counter bumped, so the offset is committed either way unless
// re-queueing itself fails.
func (e *Engine) HandleFollowup(ctx context.Context, m kafka.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		e.log.Error("followup: drop undecodable message", "offset", m.Offset, "err", err)
		return nil
	}
	task, err := kafkax.UnwrapPayload[orders.FollowupTask](env.Payload)
	if err != nil {
		e.log.Error("followup: drop undecodable task", "event_id", env.EventID, "err", err)
		return nil
	}
	log := e.log.With("order_id", task.OrderID, "kind", task.Kind, "attempt", task.Attempt)

	err = e.RunFollowup(ctx, task)
	if err == nil {
		log.Info("followup done")
		return nil
	}
	if task.Attempt+1 >= MaxFollowupAttempts {
		log.Error("followup abandoned", "err", err)
		return nil
	}
	log.Warn("followup failed, requeueing", "err", err)

	select {
	case <-time.After(e.retryDelay << task.Attempt):
	case <-ctx.Done():
		return ctx.Err()
	}
	task.Attempt++
	return e.events.Enqueue(ctx, task)
}
