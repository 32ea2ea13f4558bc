package queue

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   Status
		valid  bool
	}{
		{ActionAccept, StatusQueued, true},
		{ActionAccept, StatusAccepted, false},
		{ActionAccept, StatusExpired, false},
		{ActionReject, StatusQueued, true},
		{ActionReject, StatusAccepted, false},
		{ActionCancel, StatusQueued, true},
		{ActionCancel, StatusCancelled, false},
		{ActionExpire, StatusQueued, true},
		{ActionExpire, StatusAccepted, false},
		{"reopen", StatusExpired, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestValidPaymentTransition(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		valid    bool
	}{
		{PaymentNotStarted, PaymentPending, true},
		{PaymentNotStarted, PaymentPaid, false},
		{PaymentPending, PaymentPaid, true},
		{PaymentPending, PaymentFailed, true},
		{PaymentPending, PaymentExpired, true},
		{PaymentPaid, PaymentPending, false},
		{PaymentExpired, PaymentPaid, false},
		{PaymentNotRequired, PaymentPending, false},
	}

	for _, tt := range cases {
		if got := ValidPaymentTransition(tt.from, tt.to); got != tt.valid {
			t.Fatalf("ValidPaymentTransition(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}
