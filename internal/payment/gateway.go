// Package payment talks to the FastPay gateway: intent creation on the way
// out, signed webhook events on the way in. The gateway is an untrusted
// network peer; nothing it sends is believed before signature verification.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	IntentStatusProcessing = "processing"
	IntentStatusSucceeded  = "succeeded"
	IntentStatusFailed     = "payment_failed"
)

type Intent struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type Gateway interface {
	CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*Intent, error)
}

// HTTPGateway is the production client. Calls are bounded by the client
// timeout; a timeout is a hard failure for the caller, which must roll back.
type HTTPGateway struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

type createIntentReq struct {
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (g *HTTPGateway) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error) {
	body, err := json.Marshal(createIntentReq{AmountCents: amountCents, Currency: currency, Metadata: metadata})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v1/payment_intents", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.APIKey)

	return g.do(req)
}

func (g *HTTPGateway) GetPaymentIntent(ctx context.Context, intentID string) (*Intent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/v1/payment_intents/"+intentID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)

	return g.do(req)
}

func (g *HTTPGateway) do(req *http.Request) (*Intent, error) {
	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fastpay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fastpay: unexpected status %d", resp.StatusCode)
	}
	var in Intent
	if err := json.NewDecoder(resp.Body).Decode(&in); err != nil {
		return nil, fmt.Errorf("fastpay: decode response: %w", err)
	}
	return &in, nil
}
