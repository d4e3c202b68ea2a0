package settlement

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Simulated is an in-process network for local development. Payments to
// addresses marked missing fail with DestinationAccountDoesNotExist, all
// other payments confirm. Receipts are remembered per idempotency key.
type Simulated struct {
	mu       sync.Mutex
	missing  map[string]bool
	receipts map[string]Receipt
	payments map[string]decimal.Decimal
}

func NewSimulated() *Simulated {
	return &Simulated{
		missing:  make(map[string]bool),
		receipts: make(map[string]Receipt),
		payments: make(map[string]decimal.Decimal),
	}
}

// MarkMissing makes future payments to address fail as unfunded.
func (s *Simulated) MarkMissing(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missing[address] = true
}

func (s *Simulated) IsValidAddress(address string) bool {
	return IsValidAccountID(address)
}

func (s *Simulated) SubmitPayment(ctx context.Context, destination string, amount decimal.Decimal, idempotencyKey string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.receipts[idempotencyKey]; ok {
		return r, nil
	}

	var r Receipt
	switch {
	case !IsValidAccountID(destination):
		r = Receipt{Status: ReferenceError}
	case s.missing[destination]:
		r = Receipt{Status: DestinationAccountDoesNotExist}
	default:
		r = Receipt{Status: Confirmed, Reference: uuid.NewString()}
		s.payments[destination] = s.payments[destination].Add(amount)
	}
	s.receipts[idempotencyKey] = r
	return r, nil
}

func (s *Simulated) LookupPayment(ctx context.Context, idempotencyKey string) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[idempotencyKey]
	if !ok {
		return Receipt{}, ErrPaymentNotFound
	}
	return r, nil
}

// Paid returns the total confirmed to address.
func (s *Simulated) Paid(address string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments[address]
}
