package orders

type Status string

const (
	StatusInTransit         Status = "IN_TRANSIT"
	StatusReceived          Status = "RECEIVED"
	StatusOfferSent         Status = "OFFER_SENT"
	StatusAccepted          Status = "ACCEPTED"
	StatusRejected          Status = "REJECTED"
	StatusPaymentProcessing Status = "PAYMENT_PROCESSING"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusInTransit:         {StatusReceived: true},
	StatusReceived:          {StatusOfferSent: true},
	StatusOfferSent:         {StatusAccepted: true, StatusRejected: true},
	StatusRejected:          {StatusAccepted: true, StatusCancelled: true},
	StatusAccepted:          {StatusPaymentProcessing: true},
	StatusPaymentProcessing: {StatusCompleted: true},
	StatusCompleted:         {},
	StatusCancelled:         {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Guard returns a *TransitionError when to is not reachable from the
// order's current status.
func Guard(o PurchaseOrder, to Status) error {
	if !CanTransition(o.Status, to) {
		return &TransitionError{OrderID: o.ID, From: o.Status, To: to}
	}
	return nil
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

// Settled reports whether the order has reached acceptance or anything after
// it; snapshots of a settled order are frozen.
func (s Status) Settled() bool {
	switch s {
	case StatusAccepted, StatusPaymentProcessing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
