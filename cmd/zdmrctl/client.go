package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// client is a thin wrapper over the Control API (SPEC_FULL.md §3), the way
// the rest of this tool tree treats zdmrd as just another HTTP peer rather
// than linking the engine in-process.
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(host string, port int, token string) *client {
	return &client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("X-ZDMR-Token", c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting zdmrd at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) get(path string, out any) error  { return c.do(http.MethodGet, path, nil, out) }
func (c *client) post(path string, body any, out any) error {
	return c.do(http.MethodPost, path, body, out)
}
func (c *client) delete(path string) error { return c.do(http.MethodDelete, path, nil, nil) }

// events opens the SSE stream and delivers raw `data: ...` payloads,
// mirroring the envelope api.toEnvelope writes.
func (c *client) events() (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("X-ZDMR-Token", c.token)
	}
	httpClient := &http.Client{} // no timeout: long-lived stream
	return httpClient.Do(req)
}
