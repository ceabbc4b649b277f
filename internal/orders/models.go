package orders

import (
	"errors"
	"time"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentStripe PaymentMethod = "stripe"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentStripe:
		return true
	}
	return false
}

// RequiresConfirmation reports whether the processor must confirm the payment before the
// sale is final. Such orders ship, so they also need an address.
func (m PaymentMethod) RequiresConfirmation() bool {
	return m == PaymentCard || m == PaymentStripe
}

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

type LineItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Order amounts are minor currency units.
type Order struct {
	ID                 string
	UserID             string
	LineItems          []LineItem
	ShippingAddress    *Address
	PaymentMethod      PaymentMethod
	PaymentStatus      PaymentStatus
	Status             Status
	SubtotalCents      int64
	ShippingCents      int64
	TotalCents         int64
	Currency           string
	ExternalPaymentRef string
	ReceiptURL         string
	Notes              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (o Order) State() State { return State{Status: o.Status, PaymentStatus: o.PaymentStatus} }

var (
	ErrNotFound           = errors.New("order not found")
	ErrStaleTransition    = errors.New("order state changed concurrently")
	ErrInvalidTransition  = errors.New("invalid order state transition")
	ErrPaymentRefConflict = errors.New("order already bound to a different payment")
	ErrAlreadyExists      = errors.New("order already exists")
)
