package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type HTTPClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewHTTPClient(httpClient *http.Client, baseURL, apiKey string) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type transactionsSyncRequest struct {
	CredentialRef string  `json:"credential_ref"`
	Cursor        *string `json:"cursor,omitempty"`
}

func (c *HTTPClient) TransactionsSync(ctx context.Context, credentialRef string, cursor *string) (*SyncDelta, error) {
	body, err := json.Marshal(transactionsSyncRequest{CredentialRef: credentialRef, Cursor: cursor})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions/sync", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("provider http %d: %w", resp.StatusCode, ErrCredentialsInvalid)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("provider http %d: %w", resp.StatusCode, ErrRateLimited)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider http %d: %s", resp.StatusCode, string(snippet))
	}

	var delta SyncDelta
	if err := json.NewDecoder(resp.Body).Decode(&delta); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return &delta, nil
}
