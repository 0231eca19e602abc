/**
 * @description
 * This package provides a client for communicating with the catalog service.
 * The catalog owns product data (title, category, price); the order-service
 * only reads it at checkout time to price the session.
 */
package catalogclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrProductNotFound is returned when the catalog has no product for the id.
var ErrProductNotFound = errors.New("product not found")

// Client is a client for the catalog service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new catalog service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ProductResponse is the catalog's view of a purchasable product.
type ProductResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Amount   int64  `json:"amount"` // in cents
	Active   bool   `json:"active"`
}

// GetProduct fetches one product by id.
func (c *Client) GetProduct(ctx context.Context, productID string) (*ProductResponse, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("catalog service base url is empty")
	}

	url := fmt.Sprintf("%s/internal/products/%s", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to catalog service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrProductNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("catalog service returned error status %d", resp.StatusCode)
	}

	var response ProductResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}
