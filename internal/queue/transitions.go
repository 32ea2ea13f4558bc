package queue

const (
	ActionAccept = "accept"
	ActionReject = "reject"
	ActionCancel = "cancel"
	ActionExpire = "expire"
)

var transitionMap = map[string][]Status{
	ActionAccept: {StatusQueued},
	ActionReject: {StatusQueued},
	ActionCancel: {StatusQueued},
	ActionExpire: {StatusQueued},
}

var paymentTransitionMap = map[PaymentStatus][]PaymentStatus{
	PaymentNotStarted: {PaymentPending},
	PaymentPending:    {PaymentPaid, PaymentFailed, PaymentExpired},
}

func ValidTransition(action string, from Status) bool {
	for _, status := range transitionMap[action] {
		if status == from {
			return true
		}
	}
	return false
}

func ValidPaymentTransition(from, to PaymentStatus) bool {
	for _, status := range paymentTransitionMap[from] {
		if status == to {
			return true
		}
	}
	return false
}
