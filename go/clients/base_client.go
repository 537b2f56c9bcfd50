package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError is returned when the API answers with a non-2xx status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status code: %d, response: %s", e.StatusCode, e.Body)
}

// ServerError reports whether the status is in the 5xx range.
func (e *StatusError) ServerError() bool {
	return e.StatusCode >= 500
}

// DecodeError wraps a response body that could not be decoded.
type DecodeError struct {
	Err error
	Raw string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to unmarshal response: %v, raw response: %s", e.Err, e.Raw)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type BaseClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewBaseClient(baseURL string) *BaseClient {
	return &BaseClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// NewBaseClientWithHTTP lets callers supply their own transport, e.g. in tests.
func NewBaseClientWithHTTP(baseURL string, httpClient *http.Client) *BaseClient {
	c := NewBaseClient(baseURL)
	if httpClient != nil {
		c.client = httpClient
	}
	return c
}

func (c *BaseClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *BaseClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *BaseClient) BaseURL() string {
	return c.baseURL
}

// MakeRequest sends a request and returns the raw body of a 2xx response.
// Per-request deadlines come from ctx; the http.Client timeout is only a backstop.
func (c *BaseClient) MakeRequest(ctx context.Context, method, endpoint string, body io.Reader, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(responseBody)}
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return responseBody, nil
}

func (c *BaseClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodGet, endpoint, nil, nil)
}

func (c *BaseClient) Post(ctx context.Context, endpoint string, body io.Reader) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPost, endpoint, body, nil)
}

// GetJSON performs a GET and decodes the JSON response into dest.
func (c *BaseClient) GetJSON(ctx context.Context, endpoint string, dest interface{}) error {
	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return err
	}
	return decode(body, dest)
}

// PostJSON encodes payload, POSTs it and decodes the response into dest (if non-nil).
func (c *BaseClient) PostJSON(ctx context.Context, endpoint string, payload interface{}, dest interface{}, headers map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	body, err := c.MakeRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(data), headers)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	return decode(body, dest)
}

func decode(body []byte, dest interface{}) error {
	if err := json.Unmarshal(body, dest); err != nil {
		return &DecodeError{Err: err, Raw: string(body)}
	}
	return nil
}
