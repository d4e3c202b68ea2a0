package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gateway talks to the signing and submission gateway that holds the hot
// wallet key. The gateway de-duplicates on the idempotency key, so a repeated
// submission returns the first submission's receipt.
type Gateway struct {
	baseURL *url.URL
	client  *http.Client
	logger  *zap.Logger
}

type paymentRequest struct {
	Destination    string `json:"destination"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

func NewGateway(baseURL string, timeout time.Duration, logger *zap.Logger) (*Gateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway url %q must be absolute", baseURL)
	}
	return &Gateway{
		baseURL: u,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

func (g *Gateway) IsValidAddress(address string) bool {
	return IsValidAccountID(address)
}

func (g *Gateway) SubmitPayment(ctx context.Context, destination string, amount decimal.Decimal, idempotencyKey string) (Receipt, error) {
	body, err := json.Marshal(paymentRequest{
		Destination:    destination,
		Amount:         amount.StringFixed(7),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint("/payments"), bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	return g.do(req)
}

func (g *Gateway) LookupPayment(ctx context.Context, idempotencyKey string) (Receipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint("/payments/"+url.PathEscape(idempotencyKey)), nil)
	if err != nil {
		return Receipt{}, err
	}
	return g.do(req)
}

func (g *Gateway) endpoint(path string) string {
	u := *g.baseURL
	u.Path += path
	return u.String()
}

// do maps the gateway response onto a Receipt. Anything that is not a
// definitive status in the body is reported as ErrUnknownOutcome.
func (g *Gateway) do(req *http.Request) (Receipt, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: read body: %v", ErrUnknownOutcome, err)
	}

	if resp.StatusCode == http.StatusNotFound && req.Method == http.MethodGet {
		return Receipt{}, ErrPaymentNotFound
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		g.logger.Warn("settlement gateway error",
			zap.Int("status", resp.StatusCode),
			zap.String("url", req.URL.String()),
			zap.ByteString("body", raw))
		return Receipt{}, fmt.Errorf("%w: gateway returned %d", ErrUnknownOutcome, resp.StatusCode)
	}

	var receipt Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return Receipt{}, fmt.Errorf("%w: decode receipt: %v", ErrUnknownOutcome, err)
	}
	if !receipt.Status.Definitive() {
		return Receipt{}, fmt.Errorf("%w: status %q", ErrUnknownOutcome, receipt.Status)
	}
	return receipt, nil
}
