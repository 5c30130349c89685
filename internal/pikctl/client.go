// Package pikctl implements the operator CLI: source registry management,
// config tuning, user enrollment and session minting against a running
// kernel's HTTP API.
package pikctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin wrapper over the kernel's HTTP API envelope.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type apiEnvelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// call performs one request and unwraps the response envelope, returning
// the raw data document.
func (c *Client) call(method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("malformed response (%s): %w", resp.Status, err)
	}
	if env.Status != "ok" {
		return nil, fmt.Errorf("%s %s: %s (%s)", method, path, env.Message, resp.Status)
	}
	return env.Data, nil
}

func (c *Client) Get(path string) (json.RawMessage, error) {
	return c.call(http.MethodGet, path, nil)
}

func (c *Client) Post(path string, body any) (json.RawMessage, error) {
	return c.call(http.MethodPost, path, body)
}
