// Package testutil provides the HTTP client, containers and contract checks used by integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"
)

// Client calls the API under test. A checked client reports every response that
// does not match the OpenAPI contract as a test error.
type Client struct {
	baseURL  string
	http     *http.Client
	contract *Contract
	t        *testing.T
}

// NewClient creates an unchecked client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Checked returns a copy of the client that checks responses against contract and reports to t.
func (c *Client) Checked(t *testing.T, contract *Contract) *Client {
	clone := *c
	clone.contract = contract
	clone.t = t
	return &clone
}

// Unchecked returns a copy of the client without contract checks, for requests
// that deliberately step outside the API.
func (c *Client) Unchecked() *Client {
	clone := *c
	clone.contract = nil
	return &clone
}

// GET performs a GET request.
func (c *Client) GET(path string) (*http.Response, error) {
	return c.do(http.MethodGet, path, nil)
}

// POST sends body encoded as JSON.
func (c *Client) POST(path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return c.do(http.MethodPost, path, data)
}

// POSTRaw sends body exactly as given.
func (c *Client) POSTRaw(path string, body []byte) (*http.Response, error) {
	return c.do(http.MethodPost, path, body)
}

// DELETE performs a DELETE request.
func (c *Client) DELETE(path string) (*http.Response, error) {
	return c.do(http.MethodDelete, path, nil)
}

func (c *Client) do(method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if c.contract == nil || c.t == nil {
		return resp, nil
	}

	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))

	u, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.contract.CheckResponse(method, u.Path, resp.StatusCode, resp.Header, data); err != nil {
		c.t.Error(err)
	}
	return resp, nil
}

// DecodeJSON decodes the response body into v and closes it.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ReadBody returns the response body and closes it.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

// Eventually polls cond every 50ms until it holds or timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
