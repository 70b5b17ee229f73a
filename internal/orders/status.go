package orders

type Status string

const (
	StatusPlaced     Status = "placed"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPlaced:     {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusInProgress: true, StatusCancelled: true},
	StatusInProgress: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// A failed payment may still be retried and succeed.
var validPaymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:  {PaymentPaid: true, PaymentFailed: true},
	PaymentFailed:   {PaymentPaid: true},
	PaymentPaid:     {PaymentRefunded: true},
	PaymentRefunded: {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validPaymentNext[from][to]
}

func (s PaymentStatus) Valid() bool {
	_, ok := validPaymentNext[s]
	return ok
}
