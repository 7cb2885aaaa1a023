package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/internal/config"
	"github.com/jwalitptl/telehealth-api/pkg/circuitbreaker"
)

// Gateway charges patients for orders. Implementations must be safe to call
// after the order has been committed; their failures are reported, not rolled back.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Result, error)
	Refund(ctx context.Context, reference string, amountCents int64) (*Result, error)
	// Manual reports whether payment is collected outside the system
	Manual() bool
}

type ChargeRequest struct {
	OrderID     uuid.UUID `json:"order_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
}

type Result struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

var ErrDeclined = errors.New("payment declined")

// NewGateway picks the implementation named by cfg.Driver
func NewGateway(cfg config.PaymentConfig, apiKey string) (Gateway, error) {
	switch cfg.Driver {
	case "", "manual":
		return ManualGateway{}, nil
	case "http":
		return NewHTTPGateway(cfg, apiKey), nil
	}
	return nil, fmt.Errorf("unsupported payment driver %q", cfg.Driver)
}

// ManualGateway leaves orders unpaid for offline collection
type ManualGateway struct{}

func (ManualGateway) Manual() bool { return true }

func (ManualGateway) Charge(context.Context, ChargeRequest) (*Result, error) {
	return &Result{Status: "manual"}, nil
}

func (ManualGateway) Refund(context.Context, string, int64) (*Result, error) {
	return &Result{Status: "manual"}, nil
}

type HTTPGateway struct {
	baseURL  string
	apiKey   string
	currency string
	http     *http.Client
	cb       *circuitbreaker.CircuitBreaker
}

func NewHTTPGateway(cfg config.PaymentConfig, apiKey string) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   apiKey,
		currency: cfg.Currency,
		http:     &http.Client{Timeout: timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:             "payment-gateway",
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		}),
	}
}

func (g *HTTPGateway) Manual() bool { return false }

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	if req.Currency == "" {
		req.Currency = g.currency
	}
	return g.post(ctx, "/charges", req.OrderID.String(), req)
}

type refundRequest struct {
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
}

func (g *HTTPGateway) Refund(ctx context.Context, reference string, amountCents int64) (*Result, error) {
	return g.post(ctx, "/refunds", "refund-"+reference, refundRequest{Reference: reference, AmountCents: amountCents})
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, body interface{}) (*Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var result Result
	var declined bool
	err = g.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
		req.Header.Set("Idempotency-Key", idempotencyKey)

		resp, err := g.http.Do(req)
		if err != nil {
			return fmt.Errorf("payment request: %w", err)
		}
		defer resp.Body.Close()

		// a decline is a business outcome, not a provider failure
		if resp.StatusCode == http.StatusPaymentRequired {
			declined = true
			return nil
		}
		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("payment provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return nil, err
	}
	if declined {
		return nil, ErrDeclined
	}
	return &result, nil
}
