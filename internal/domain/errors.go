package domain

import "errors"

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAddress      = errors.New("invalid wallet address")
	ErrNoAddressProvided   = errors.New("no wallet address provided")
	ErrSelfReference       = errors.New("source and target are the same account")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrIdempotencyMismatch = errors.New("idempotency key reused for a different kind of transfer")
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransferNotFound    = errors.New("transfer not found")
	ErrAddressTaken        = errors.New("wallet address registered to another account")
)
