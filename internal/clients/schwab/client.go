// Package schwab provides a read-only client for the Schwab trader API,
// covering the order history and account position endpoints the bot polls.
package schwab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tradenotify/internal/ingest"
	"tradenotify/internal/retry"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// Client talks to the Schwab trader API with a bearer token.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	log         zerolog.Logger
}

// NewClient creates a Schwab API client.
func NewClient(baseURL, accessToken string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
		log:         log.With().Str("client", "schwab").Logger(),
	}
}

// GetOrders fetches orders entered within the lookback window, optionally
// filtered to a single status.
func (c *Client) GetOrders(ctx context.Context, lookback time.Duration, status string) ([]ingest.Order, error) {
	now := time.Now().UTC()
	params := url.Values{}
	params.Set("fromEnteredTime", now.Add(-lookback).Format(timeLayout))
	params.Set("toEnteredTime", now.Format(timeLayout))
	if status != "" {
		params.Set("status", status)
	}

	var orders []ingest.Order
	if err := c.getJSON(ctx, "/trader/v1/orders?"+params.Encode(), &orders); err != nil {
		return nil, fmt.Errorf("failed to fetch orders: %w", err)
	}

	c.log.Debug().Int("count", len(orders)).Msg("Fetched orders")
	return orders, nil
}

// GetOptionPositions fetches current account positions and returns the
// option positions keyed by underlying symbol.
func (c *Client) GetOptionPositions(ctx context.Context) (map[string]Position, error) {
	var accounts []Account
	if err := c.getJSON(ctx, "/trader/v1/accounts?fields=positions", &accounts); err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}

	byUnderlying := make(map[string]Position)
	for _, account := range accounts {
		for _, pos := range account.SecuritiesAccount.Positions {
			if pos.Instrument.AssetType != "OPTION" {
				continue
			}
			key := pos.Instrument.UnderlyingSymbol
			if key == "" {
				key = ingest.ExtractUnderlying(pos.Instrument.Symbol)
			}
			byUnderlying[key] = pos
		}
	}

	c.log.Debug().Int("count", len(byUnderlying)).Msg("Fetched option positions")
	return byUnderlying, nil
}

// getJSON performs an authenticated GET and decodes the response body.
// Authentication and other client errors are fatal so the retry wrapper
// does not hammer the API with a bad token.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return retry.Fatal(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return retry.Fatal(fmt.Errorf("authentication rejected (status %d): %s", resp.StatusCode, truncateBody(body)))
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return retry.Fatal(fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncateBody(body)))
	default:
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncateBody(body []byte) string {
	const maxLen = 200
	s := string(body)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
