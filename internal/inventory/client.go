// Package inventory is the HTTP client of the inventory service that signs orders and
// reports the material they consume.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/orders"
)

const maxErrorBody = 512

var (
	// ErrInventoryUnavailable is returned for transport failures and non-2xx answers.
	ErrInventoryUnavailable = errors.New("inventory service unavailable")

	// ErrMalformedResponse is returned when the answer cannot be decoded or lacks
	// required fields.
	ErrMalformedResponse = errors.New("malformed inventory response")
)

// Client posts one order at a time to the inventory service. It makes a single attempt;
// callers own the retry policy.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a Client from cfg.
func NewClient(cfg *Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		url:    cfg.URL,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// Enrich sends order to the inventory service and returns its validated answer.
func (c *Client) Enrich(ctx context.Context, order orders.OrderPayload) (orders.EnrichedOrder, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return orders.EnrichedOrder{}, fmt.Errorf("failed to marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return orders.EnrichedOrder{}, fmt.Errorf("failed to build inventory request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return orders.EnrichedOrder{}, fmt.Errorf("%w: %w", ErrInventoryUnavailable, err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return orders.EnrichedOrder{}, fmt.Errorf("%w: status %d: %s",
			ErrInventoryUnavailable, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var enriched orders.EnrichedOrder
	if err := json.NewDecoder(resp.Body).Decode(&enriched); err != nil {
		return orders.EnrichedOrder{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	if err := enriched.Validate(); err != nil {
		return orders.EnrichedOrder{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	c.logger.Debug("Order enriched",
		slog.String("location", enriched.Location),
		slog.String("signature", enriched.Signature),
	)

	return enriched, nil
}
