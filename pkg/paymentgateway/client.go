/**
 * @description
 * This package provides a client for interacting with the external payment
 * gateway. It encapsulates the logic for making authenticated HTTP requests to
 * the gateway's checkout-session and refund endpoints, handling request body
 * construction, and parsing responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the payment gateway API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payment gateway API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CheckoutSessionParams is the payload for creating a gateway checkout session.
// Metadata is echoed back on webhook notifications, which is how failed-payment
// events carry the local order id.
type CheckoutSessionParams struct {
	ProductID     string            `json:"product_id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CheckoutSession is the gateway's representation of a created checkout session.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Refund is the gateway's representation of a refund request outcome.
type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// ErrorResponse represents an error returned by the gateway API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Code       string `json:"code"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway api error: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("gateway api error: status %d", e.StatusCode)
}

// CreateCheckoutSession creates a hosted checkout session for a paid product.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := c.post(ctx, "/v1/checkout/sessions", params, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RefundPayment asks the gateway to refund a captured payment. The caller owns
// the deadline; refunds run under a bounded context so an unresponsive gateway
// surfaces as an error instead of hanging an operator request.
func (c *Client) RefundPayment(ctx context.Context, paymentID string) (*Refund, error) {
	payload := struct {
		PaymentID string `json:"payment_id"`
	}{PaymentID: paymentID}

	var refund Refund
	if err := c.post(ctx, "/v1/refunds", payload, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	if c.BaseURL == "" {
		return fmt.Errorf("gateway base url is empty")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &ErrorResponse{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
