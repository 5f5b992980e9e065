// Package assets is the HTTP client for the asset-transfer service,
// the custodian that moves assets between owners and computes payout
// splits for sale proceeds.
package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/veridianlabs/nftmarket/services/marketplace/internal/market"
)

const (
	transferPayoutPath = "/v1/transfers/payout"
	apiKeyHeader       = "X-API-Key"
	maxErrorBodyBytes  = 512
)

type Client struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("asset service base url required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	if timeout > 0 {
		rc.HTTPClient.Timeout = timeout
	}

	return &Client{
		http:    rc,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}, nil
}

// TransferPayout asks the custodian to deliver the asset to the
// receiver under the seller's approval and return the payout split for
// the settlement balance. A non-2xx answer is an error; the payout it
// may carry is never trusted.
func (c *Client) TransferPayout(ctx context.Context, req market.TransferPayoutRequest) (*market.Payout, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal transfer request: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transferPayoutPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build transfer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("asset transfer call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("asset transfer rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payout market.Payout
	if err := json.NewDecoder(resp.Body).Decode(&payout); err != nil {
		return nil, fmt.Errorf("decode payout: %w", err)
	}
	return &payout, nil
}
