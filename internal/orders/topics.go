package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderPaid          = "order.paid"
	TopicOrderPaymentFailed = "order.payment_failed"
	TopicOrderCanceled      = "order.canceled"
	TopicFollowup           = "order.followup"
)

// PartitionKey keeps every event of one order on the same partition, in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
