// Package settlement is the boundary to the external payment network that
// backs ledger balances. The ledger only submits payments and reads back one
// of a fixed set of results.
package settlement

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Status is the network's verdict on a submitted payment.
type Status string

const (
	Confirmed                      Status = "confirmed"
	DestinationAccountDoesNotExist Status = "destination_account_does_not_exist"
	ReferenceError                 Status = "reference_error"
	SubmissionFailed               Status = "submission_failed"
)

// Receipt is a definitive answer from the network. Reference is the network's
// transaction id when one exists.
type Receipt struct {
	Status    Status `json:"status"`
	Reference string `json:"reference,omitempty"`
}

// ErrUnknownOutcome means the payment may or may not have been applied. The
// caller must keep the withdrawal pending.
var ErrUnknownOutcome = errors.New("settlement outcome unknown")

// ErrPaymentNotFound is returned by LookupPayment when the network has no
// record of the idempotency key.
var ErrPaymentNotFound = errors.New("payment not found")

// Network submits payments to the external settlement network.
//
// SubmitPayment returns a Receipt for every definitive outcome. A non-nil
// error means the outcome is unknown (timeout, transport failure).
type Network interface {
	SubmitPayment(ctx context.Context, destination string, amount decimal.Decimal, idempotencyKey string) (Receipt, error)
	IsValidAddress(address string) bool
}

// Lookup is implemented by networks that can report on an earlier submission.
type Lookup interface {
	LookupPayment(ctx context.Context, idempotencyKey string) (Receipt, error)
}

// Definitive reports whether s is one of the known terminal statuses.
func (s Status) Definitive() bool {
	switch s {
	case Confirmed, DestinationAccountDoesNotExist, ReferenceError, SubmissionFailed:
		return true
	}
	return false
}
