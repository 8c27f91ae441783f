package models

// ConfirmationState is where one reconciliation run ended up.
type ConfirmationState string

const (
	StateUnconfirmed  ConfirmationState = "unconfirmed"
	StateConfirming   ConfirmationState = "confirming"
	StateConfirmed    ConfirmationState = "confirmed"
	StateTokenPending ConfirmationState = "token_pending"
	StateTokenIssued  ConfirmationState = "token_issued"
	// StateDegraded means the payment is recorded but no download token could
	// be minted within the retry budget.
	StateDegraded ConfirmationState = "degraded"
)

// Confirmation is the outcome of confirmAndAuthorize for one record.
//
// Retryable tells the client that calling confirm again may change the
// outcome: unpaid sessions may still settle and degraded runs may mint.
type Confirmation struct {
	RecordID  string
	State     ConfirmationState
	Paid      bool
	Token     *DownloadToken
	Retryable bool
	Attempts  int
}
