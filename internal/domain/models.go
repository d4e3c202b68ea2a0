package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a user's balance on one chat network. The same UniqueID on two
// adapters is two distinct accounts.
type Account struct {
	ID            int64           `json:"id"`
	Adapter       string          `json:"adapter"`
	UniqueID      string          `json:"unique_id"`
	Balance       decimal.Decimal `json:"balance"`
	WalletAddress string          `json:"wallet_address,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CanPay reports whether amount is positive and covered by the balance.
func (a *Account) CanPay(amount decimal.Decimal) bool {
	return amount.IsPositive() && a.Balance.GreaterThanOrEqual(amount)
}

type TransferKind string

const (
	KindTip        TransferKind = "tip"
	KindDeposit    TransferKind = "deposit"
	KindWithdrawal TransferKind = "withdrawal"
)

type TransferStatus string

const (
	StatusPending TransferStatus = "pending"
	StatusSettled TransferStatus = "settled"
	StatusFailed  TransferStatus = "failed"
)

// Transfer is the record of one balance movement. Internal transfers target an
// account, withdrawals target an external address, deposits have no source.
type Transfer struct {
	ID                 uuid.UUID       `json:"id"`
	Kind               TransferKind    `json:"kind"`
	Status             TransferStatus  `json:"status"`
	SourceAccountID    *int64          `json:"source_account_id,omitempty"`
	TargetAccountID    *int64          `json:"target_account_id,omitempty"`
	DestinationAddress string          `json:"destination_address,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	IdempotencyKey     string          `json:"idempotency_key"`
	Reference          string          `json:"reference,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// LedgerEntry represents one leg of a balance mutation.
// Every change to an account balance writes exactly one entry.
type LedgerEntry struct {
	ID         int64           `json:"id"`
	TransferID uuid.UUID       `json:"transfer_id"`
	AccountID  int64           `json:"account_id"`
	Delta      decimal.Decimal `json:"delta"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TipRequest is a user-to-user tip issued from a chat command.
type TipRequest struct {
	Adapter        string `json:"adapter" validate:"required"`
	SourceID       string `json:"source_id" validate:"required"`
	TargetID       string `json:"target_id" validate:"required"`
	Amount         string `json:"amount" validate:"required"`
	IdempotencyKey string `json:"-"`
}

// WithdrawalRequest moves funds to an external wallet. An empty
// DestinationAddress falls back to the account's registered wallet.
type WithdrawalRequest struct {
	Adapter            string `json:"adapter" validate:"required"`
	UniqueID           string `json:"unique_id" validate:"required"`
	DestinationAddress string `json:"destination_address,omitempty"`
	Amount             string `json:"amount" validate:"required"`
	IdempotencyKey     string `json:"-"`
}

// DepositEvent credits an account from an incoming network payment. The
// account is named directly or resolved from the sender's registered wallet.
type DepositEvent struct {
	Adapter       string `json:"adapter,omitempty" validate:"required_without=SenderAddress"`
	UniqueID      string `json:"unique_id,omitempty" validate:"required_with=Adapter"`
	SenderAddress string `json:"sender_address,omitempty"`
	Amount        string `json:"amount" validate:"required"`
	TransactionID string `json:"transaction_id" validate:"required"`
}
