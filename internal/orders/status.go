package orders

type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusPaymentFailed Status = "payment_failed"
	StatusCanceled      Status = "canceled"
	StatusShipped       Status = "shipped"
	StatusDelivered     Status = "delivered"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentCanceled PaymentStatus = "canceled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:       {StatusProcessing: true, StatusPaymentFailed: true, StatusCanceled: true},
	StatusProcessing:    {StatusShipped: true, StatusCanceled: true},
	StatusShipped:       {StatusDelivered: true},
	StatusDelivered:     {},
	StatusPaymentFailed: {},
	StatusCanceled:      {},
}

var validPaymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:  {PaymentPaid: true, PaymentFailed: true, PaymentCanceled: true},
	PaymentPaid:     {},
	PaymentFailed:   {},
	PaymentCanceled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPaymentNext[from][to]
}

// State is the pair of fields the reconciliation logic moves together.
type State struct {
	Status        Status
	PaymentStatus PaymentStatus
}

var (
	StatePending  = State{StatusPending, PaymentPending}
	StatePaid     = State{StatusProcessing, PaymentPaid}
	StateFailed   = State{StatusPaymentFailed, PaymentFailed}
	StateCanceled = State{StatusCanceled, PaymentCanceled}
)

// CanMove reports whether to is a forward move from from. Each field either stays put or
// follows its own table, and at least one must change.
func CanMove(from, to State) bool {
	if from == to {
		return false
	}
	if from.Status != to.Status && !CanTransition(from.Status, to.Status) {
		return false
	}
	if from.PaymentStatus != to.PaymentStatus && !CanTransitionPayment(from.PaymentStatus, to.PaymentStatus) {
		return false
	}
	return true
}

func (s State) String() string { return string(s.Status) + "/" + string(s.PaymentStatus) }
