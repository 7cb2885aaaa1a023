package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jwalitptl/telehealth-api/internal/config"
	"github.com/jwalitptl/telehealth-api/pkg/circuitbreaker"
)

type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// Client talks to a REST SMS provider: POST {base}/messages with a bearer key
type Client struct {
	baseURL string
	apiKey  string
	from    string
	http    *http.Client
	cb      *circuitbreaker.CircuitBreaker
}

func NewClient(cfg config.SMSConfig, apiKey string) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  apiKey,
		from:    cfg.From,
		http:    &http.Client{Timeout: timeout},
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:             "sms-provider",
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		}),
	}
}

type messageRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

func (c *Client) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(messageRequest{To: to, From: c.from, Body: body})
	if err != nil {
		return err
	}

	return c.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("sms request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("sms provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		return nil
	})
}
