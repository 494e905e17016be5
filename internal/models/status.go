package models

type OrderStatus string

const (
	StatusPending           OrderStatus = "pending"
	StatusPaymentProcessing OrderStatus = "payment_processing"
	StatusPaymentFailed     OrderStatus = "payment_failed"
	StatusProcessing        OrderStatus = "processing"
	StatusShipped           OrderStatus = "shipped"
	StatusDelivered         OrderStatus = "delivered"
	StatusCancelled         OrderStatus = "cancelled"
	StatusRefunded          OrderStatus = "refunded"
	StatusPartiallyRefunded OrderStatus = "partially_refunded"
	StatusReturned          OrderStatus = "returned"
)

type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"
	PaymentStatusAuthorized      PaymentStatus = "authorized"
	PaymentStatusPaid            PaymentStatus = "paid"
	PaymentStatusFailed          PaymentStatus = "failed"
	PaymentStatusRefundInitiated PaymentStatus = "refund_initiated"
	PaymentStatusRefunded        PaymentStatus = "refunded"
)

// statusTransitions lists the legal successors for each status. Refunded is
// terminal. Self-transitions are always legal and handled in CanTransition,
// so no status lists itself.
var statusTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:           {StatusPaymentProcessing, StatusCancelled},
	StatusPaymentProcessing: {StatusProcessing, StatusPaymentFailed, StatusCancelled},
	StatusPaymentFailed:     {StatusPaymentProcessing, StatusCancelled},
	StatusProcessing:        {StatusShipped, StatusCancelled},
	StatusShipped:           {StatusDelivered, StatusReturned},
	StatusDelivered:         {StatusReturned, StatusRefunded, StatusPartiallyRefunded},
	StatusCancelled:         {StatusRefunded},
	StatusReturned:          {StatusRefunded, StatusPartiallyRefunded},
	StatusPartiallyRefunded: {StatusRefunded},
	StatusRefunded:          {},
}

// IsValidStatus reports whether s is one of the known order statuses.
func IsValidStatus(s OrderStatus) bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransition reports whether an order may move from current to next.
// A self-transition is always legal; callers treat it as a no-op and must
// not append a duplicate history entry for it.
func CanTransition(current, next OrderStatus) bool {
	if current == next {
		return IsValidStatus(current)
	}
	for _, s := range statusTransitions[current] {
		if s == next {
			return true
		}
	}
	return false
}

// CancellableStatuses are the statuses from which a customer cancellation is
// permitted.
var CancellableStatuses = map[OrderStatus]bool{
	StatusPending:           true,
	StatusPaymentProcessing: true,
	StatusPaymentFailed:     true,
	StatusProcessing:        true,
}
