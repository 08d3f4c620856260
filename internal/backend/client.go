// Copyright (c) GPUWatch, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package backend talks to the GPUWatch HTTP API: one-time token exchange
// and cloud account registration.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// DefaultURL is the production backend. Overridable via configuration or a
// backend_url returned by token exchange.
const DefaultURL = "https://api.gpuwatch.io"

// responseBodyFile is where the raw body of a failed registration is kept
// for operator inspection.
const responseBodyFile = "gpuwatch-register-response.txt"

// Client is a thin HTTP client for the backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewClient returns a Client for the given backend base URL.
func NewClient(baseURL string, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		logger:     logger,
	}
}

// BaseURL returns the backend base URL the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// TokenExchangeResult is the outcome of redeeming a one-time token
// identifier. The identifier expires one hour after issuance; expiry is
// enforced by the backend.
type TokenExchangeResult struct {
	Token      string `json:"token"`
	BackendURL string `json:"backend_url"`
}

// ExchangeToken redeems a one-time token identifier for a bearer token.
// When the response carries a backend_url, the client retargets itself to
// it for the remainder of the run. A transport failure or a response
// without a token is fatal; there is no retry.
func (c *Client) ExchangeToken(ctx context.Context, tokenID string) (*TokenExchangeResult, error) {
	url := fmt.Sprintf("%s/cloud-accounts/token/%s", c.baseURL, tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building token exchange request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token exchange response: %w", err)
	}

	var result TokenExchangeResult
	if err := json.Unmarshal(body, &result); err != nil || result.Token == "" {
		return nil, fmt.Errorf("token exchange returned no token (status %d): %s", resp.StatusCode, string(body))
	}

	if result.BackendURL != "" {
		c.logger.Debugw("backend URL overridden by token exchange", "backend_url", result.BackendURL)
		c.baseURL = strings.TrimRight(result.BackendURL, "/")
	}
	return &result, nil
}

// Outcome classifies the backend's answer to a registration POST.
type Outcome struct {
	// Success is true for any 2xx status.
	Success bool
	// Status is the HTTP status code received.
	Status int
	// BodyPath is where the raw response body was written on failure. The
	// body is preserved verbatim and never interpreted.
	BodyPath string
}

// Register POSTs the payload to its endpoint. When authToken is non-empty
// it is sent as a bearer credential. Any 2xx status is success; anything
// else is reported with the response body captured to a temp file. A
// non-2xx answer is not an error return: the caller decides whether it
// aborts the run.
func (c *Client) Register(ctx context.Context, authToken string, payload Registration) (*Outcome, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling registration payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+payload.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Infow("account registered", "account", payload.AccountID(), "status", resp.StatusCode)
		return &Outcome{Success: true, Status: resp.StatusCode}, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading registration response: %w", err)
	}
	bodyPath := filepath.Join(os.TempDir(), responseBodyFile)
	if err := os.WriteFile(bodyPath, respBody, 0600); err != nil {
		return nil, fmt.Errorf("preserving registration response body: %w", err)
	}
	c.logger.Warnw("registration rejected",
		"account", payload.AccountID(), "status", resp.StatusCode, "body", bodyPath)
	return &Outcome{Status: resp.StatusCode, BodyPath: bodyPath}, nil
}
