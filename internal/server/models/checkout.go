package models

// PaymentStatus is the provider's view of a checkout session.
type PaymentStatus string

const (
	PaymentPaid   PaymentStatus = "paid"
	PaymentUnpaid PaymentStatus = "unpaid"
)

// SessionStatus is the lifecycle state of a checkout session. Only an open
// session can still be paid by the buyer.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

// CheckoutSession is the provider handle for one payment attempt.
type CheckoutSession struct {
	ID            string
	RecordID      string
	Status        SessionStatus
	PaymentStatus PaymentStatus
	PayerEmail    string
	// ClientSecret is set for embedded checkout, URL for hosted redirect.
	ClientSecret string
	URL          string
}

// Paid reports whether the provider considers the session settled.
func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == PaymentPaid
}

// CheckoutRequest carries what the provider needs to open a session.
type CheckoutRequest struct {
	RecordID  string
	PriceID   string
	Email     string
	ReturnURL string
}
