package redisx

import "time"

const (
	// Checkout idempotency: idem:checkout:{user}:{Idempotency-Key} -> order id ("" while in flight)
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Order status cache: order_status:{order_id} -> JSON order view
	KeyOrderStatus = "order_status:%s"

	// Processed webhook events: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Persisted cart: hash cart:{user} field product id -> quantity
	KeyCart = "cart:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLCart        = 30 * 24 * time.Hour
)
