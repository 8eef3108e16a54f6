package testevents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	service "github.com/okian/psyche/internal/app"
	"github.com/okian/psyche/internal/domain/model"
)

// Result classifies one submission.
type Result int

// Submission results.
const (
	ResultAccepted Result = iota
	ResultDuplicate
	ResultRejected
	ResultFailed
)

// Client talks to the profile API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{base: baseURL, http: &http.Client{Timeout: timeout}}
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// Post submits ev for userID and classifies the response.
func (c *Client) Post(ctx context.Context, userID string, ev model.ContributionEvent) (Result, service.Outcome, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return ResultFailed, service.Outcome{}, fmt.Errorf("marshal event: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/profiles/"+url.PathEscape(userID)+"/events", body)
	if err != nil {
		return ResultFailed, service.Outcome{}, err
	}
	defer resp.Body.Close()

	var out service.Outcome
	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnprocessableEntity:
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return ResultFailed, out, fmt.Errorf("decode outcome: %w", err)
		}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ResultFailed, out, fmt.Errorf("post event: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	switch {
	case out.Accepted:
		return ResultAccepted, out, nil
	case out.Duplicate:
		return ResultDuplicate, out, nil
	default:
		return ResultRejected, out, nil
	}
}

// Snapshot fetches the rendered profile of userID.
func (c *Client) Snapshot(ctx context.Context, userID string) (model.ProfileSnapshot, error) {
	var snap model.ProfileSnapshot
	resp, err := c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(userID)+"/snapshot", nil)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("snapshot %s: status %d", userID, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader = http.NoBody
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
