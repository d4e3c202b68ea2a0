// Package outcome carries the result of every processed request to whichever
// notifiers are registered (chat adapters, logs, metrics).
package outcome

import "github.com/google/uuid"

type Kind string

const (
	// None is returned for requests that were already handled. It is never
	// dispatched.
	None Kind = ""

	TipSucceeded           Kind = "tip"
	TipInsufficientBalance Kind = "tipWithInsufficientBalance"
	TipReferenceError      Kind = "tipReferenceError"
	TipTransferFailed      Kind = "tipTransferFailed"
	TipInvalidAmount       Kind = "tipInvalidAmount"

	WithdrawalSucceeded                      Kind = "withdrawal"
	WithdrawalInvalidAmount                  Kind = "withdrawalInvalidAmountProvided"
	WithdrawalNoAddressProvided              Kind = "withdrawalNoAddressProvided"
	WithdrawalInvalidAddress                 Kind = "withdrawalInvalidAddress"
	WithdrawalInsufficientBalance            Kind = "withdrawalFailedWithInsufficientBalance"
	WithdrawalDestinationAccountDoesNotExist Kind = "withdrawalDestinationAccountDoesNotExist"
	WithdrawalReferenceError                 Kind = "withdrawalReferenceError"
	WithdrawalSubmissionFailed               Kind = "withdrawalSubmissionFailed"
	WithdrawalPending                        Kind = "withdrawalPending"

	DepositSucceeded      Kind = "deposit"
	DepositInvalidAmount  Kind = "depositInvalidAmount"
	DepositUnknownAccount Kind = "depositUnknownAccount"

	RegistrationFirstWallet    Kind = "registrationRegisteredFirstWallet"
	RegistrationReplacedWallet Kind = "registrationReplacedOldWallet"
	RegistrationSameWallet     Kind = "registrationSameAsExistingWallet"
	RegistrationAddressTaken   Kind = "registrationOtherUserHasRegisteredWallet"
	RegistrationInvalidAddress Kind = "registrationBadWallet"

	ProcessingFailed Kind = "processingFailed"
)

// Outcome is a named result plus the identifiers of the request that
// produced it. Amount and Balance are rendered with 7 fractional digits.
type Outcome struct {
	Kind            Kind       `json:"kind"`
	Adapter         string     `json:"adapter"`
	SourceID        string     `json:"source_id,omitempty"`
	TargetID        string     `json:"target_id,omitempty"`
	Address         string     `json:"address,omitempty"`
	PreviousAddress string     `json:"previous_address,omitempty"`
	Amount          string     `json:"amount,omitempty"`
	Balance         string     `json:"balance,omitempty"`
	IdempotencyKey  string     `json:"idempotency_key,omitempty"`
	TransferID      *uuid.UUID `json:"transfer_id,omitempty"`
	Reference       string     `json:"reference,omitempty"`
}

func (o Outcome) IsNone() bool {
	return o.Kind == None
}

// Failed reports whether the outcome is anything other than a success.
func (o Outcome) Failed() bool {
	switch o.Kind {
	case None, TipSucceeded, WithdrawalSucceeded, WithdrawalPending, DepositSucceeded,
		RegistrationFirstWallet, RegistrationReplacedWallet, RegistrationSameWallet:
		return false
	}
	return true
}
