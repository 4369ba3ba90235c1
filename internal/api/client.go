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
)

// HTTPDoer describes the HTTP client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	http    HTTPDoer
}

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Kind    string
	Message string
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
	}
	return e.Message
}

// NewClient constructs a client for the daemon at baseURL. bind addresses
// such as "127.0.0.1:7491" are accepted and treated as http.
func NewClient(baseURL, token string, doer HTTPDoer) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: base, token: strings.TrimSpace(token), http: doer}
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var resp DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Grid retrieves the layout and every slot.
func (c *Client) Grid(ctx context.Context) (*Grid, error) {
	var resp Grid
	if err := c.do(ctx, http.MethodGet, "/api/slots", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Assign binds req.Instance to slotID.
func (c *Client) Assign(ctx context.Context, slotID int, req AssignRequest) (*Slot, error) {
	var resp SlotResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/slots/%d", slotID), req, &resp); err != nil {
		return nil, err
	}
	return &resp.Slot, nil
}

// Unassign clears slotID.
func (c *Client) Unassign(ctx context.Context, slotID int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/slots/%d", slotID), nil, nil)
}

// Load fills the grid with req.Instances.
func (c *Client) Load(ctx context.Context, req LoadRequest) (*Grid, error) {
	var resp Grid
	if err := c.do(ctx, http.MethodPost, "/api/load", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlayAll resumes every slot.
func (c *Client) PlayAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/play", nil, nil)
}

// PauseAll pauses every slot.
func (c *Client) PauseAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/pause", nil, nil)
}

// Play resumes one slot.
func (c *Client) Play(ctx context.Context, slotID int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/slots/%d/play", slotID), nil, nil)
}

// Pause pauses one slot.
func (c *Client) Pause(ctx context.Context, slotID int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/slots/%d/pause", slotID), nil, nil)
}

// Step moves a paused slot.
func (c *Client) Step(ctx context.Context, slotID, delta int) (*Slot, error) {
	var resp SlotResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/slots/%d/step", slotID), StepRequest{Delta: delta}, &resp); err != nil {
		return nil, err
	}
	return &resp.Slot, nil
}

// RetryPreload restarts a failed preload for slotID.
func (c *Client) RetryPreload(ctx context.Context, slotID int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/slots/%d/retry-preload", slotID), nil, nil)
}

// SetLayout changes the grid dimension.
func (c *Client) SetLayout(ctx context.Context, dim int) (*Grid, error) {
	var resp Grid
	if err := c.do(ctx, http.MethodPut, "/api/layout", LayoutRequest{Dim: dim}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cache retrieves cache statistics.
func (c *Client) Cache(ctx context.Context) (*CacheStats, error) {
	var resp CacheStats
	if err := c.do(ctx, http.MethodGet, "/api/cache", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Frame downloads the latest picture of slotID and its content type.
func (c *Client) Frame(ctx context.Context, slotID int) ([]byte, string, error) {
	resp, err := c.send(ctx, http.MethodGet, fmt.Sprintf("/api/slots/%d/frame", slotID), nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read frame: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, errors.New("api client: daemon address is not configured")
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		apiErr := &Error{Status: resp.StatusCode}
		var payload ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Kind = payload.Kind
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}
	return resp, nil
}
