// Package api implements the storage contracts against the platform's public
// JSON-over-HTTP API.
package api

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

	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

const (
	apiPrefix      = "/public/api/v3/"
	agentPrefix    = "agent://"
	errBodyLimit   = 4096
	perPage        = 500
	defaultTimeout = 60 * time.Second
)

// Client talks to the platform API with a bearer API token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New constructs a Client for the server at baseURL.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
	}
}

// SetHTTPClient overrides the default HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// HTTPClient returns the HTTP client in use, instantiating a default one if necessary.
func (c *Client) HTTPClient() *http.Client {
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return c.httpClient
}

// errorPayload is the body the server sends with 4xx/5xx answers.
type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details []struct {
		Path    []any `json:"path"`
		Context struct {
			Key   string `json:"key"`
			Limit int    `json:"limit"`
		} `json:"context"`
	} `json:"details"`
}

func (c *Client) post(ctx context.Context, method, path string, body, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("api base url is empty")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+method, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("x-api-key", c.token)
	}

	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		return &storage.RemoteError{Op: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return decodeError(method, path, resp.StatusCode, raw, body)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

func decodeError(method, path string, status int, raw []byte, reqBody any) error {
	text := strings.TrimSpace(string(raw))

	if status == http.StatusNotFound {
		return &storage.RemoteError{Op: method, Path: path, StatusCode: status, Err: storage.ErrNotFound}
	}

	if _, isList := reqBody.(listRequest); isList && status == http.StatusBadRequest {
		var payload errorPayload
		_ = json.Unmarshal(raw, &payload)
		if limitErr, ok := limitError(payload, reqBody); ok {
			return limitErr
		}
		if payload.Error == "" && payload.Message == "" && strings.Contains(text, "limit") {
			return &storage.LimitExceededError{Requested: requestedLimit(reqBody)}
		}
	}

	return &storage.RemoteError{Op: method, Path: path, StatusCode: status, Err: errors.New(text)}
}

// limitError recognises the validation answer for an oversize "limit" field.
func limitError(payload errorPayload, reqBody any) (*storage.LimitExceededError, bool) {
	for _, d := range payload.Details {
		onLimit := d.Context.Key == "limit"
		for _, p := range d.Path {
			if p == "limit" {
				onLimit = true
			}
		}
		if onLimit {
			return &storage.LimitExceededError{Requested: requestedLimit(reqBody), AdvisedMax: d.Context.Limit}, true
		}
	}
	msg := strings.ToLower(payload.Error + " " + payload.Message)
	if strings.Contains(msg, "limit") && len(payload.Details) == 0 {
		return &storage.LimitExceededError{Requested: requestedLimit(reqBody)}, true
	}
	return nil, false
}

func requestedLimit(reqBody any) int {
	if body, ok := reqBody.(listRequest); ok && body.Limit != nil {
		return *body.Limit
	}
	return 0
}
