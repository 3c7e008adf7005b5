package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"deeplinker/internal/api"
)

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Status)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an API error with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// IsUnavailable reports whether err means no daemon answered.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// Client provides access to the daemon API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New builds a client for the daemon at addr. addr may be a bare host:port.
func New(addr, token string, timeout time.Duration) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{base: base, token: strings.TrimSpace(token), http: &http.Client{Timeout: timeout}}
}

// Base returns the resolved base URL.
func (c *Client) Base() string {
	return c.base
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var resp api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ingest uploads a local path or URL.
func (c *Client) Ingest(ctx context.Context, req api.IngestRequest) (*api.IngestResponse, error) {
	var resp api.IngestResponse
	if err := c.do(ctx, http.MethodPost, "/api/media", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns one page of tokens after cursor.
func (c *Client) List(ctx context.Context, after string, limit int) (*api.MediaListResponse, error) {
	query := url.Values{}
	if after != "" {
		query.Set("after", after)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp api.MediaListResponse
	if err := c.do(ctx, http.MethodGet, withQuery("/api/media", query), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Describe returns one token with its artifacts.
func (c *Client) Describe(ctx context.Context, token string) (*api.MediaItem, error) {
	var resp api.MediaItemResponse
	if err := c.do(ctx, http.MethodGet, "/api/media/"+url.PathEscape(token), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

// Delete removes a token.
func (c *Client) Delete(ctx context.Context, token string) (*api.DeleteResponse, error) {
	var resp api.DeleteResponse
	if err := c.do(ctx, http.MethodDelete, "/api/media/"+url.PathEscape(token), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Jobs lists recent pipeline jobs, optionally for one token.
func (c *Client) Jobs(ctx context.Context, token string) (*api.JobsResponse, error) {
	query := url.Values{}
	if token != "" {
		query.Set("token", token)
	}
	var resp api.JobsResponse
	if err := c.do(ctx, http.MethodGet, withQuery("/api/jobs", query), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settings returns every effective setting.
func (c *Client) Settings(ctx context.Context) (*api.SettingsResponse, error) {
	var resp api.SettingsResponse
	if err := c.do(ctx, http.MethodGet, "/api/settings", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Setting returns one effective setting.
func (c *Client) Setting(ctx context.Context, key string) (*api.SettingResponse, error) {
	var resp api.SettingResponse
	if err := c.do(ctx, http.MethodGet, "/api/settings/"+url.PathEscape(key), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetSetting stores value, which must be a JSON literal.
func (c *Client) SetSetting(ctx context.Context, key string, value json.RawMessage) (*api.SettingResponse, error) {
	var resp api.SettingResponse
	if err := c.do(ctx, http.MethodPut, "/api/settings/"+url.PathEscape(key), value, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogQuery filters a log fetch.
type LogQuery struct {
	Since     uint64
	Limit     int
	Follow    bool
	Tail      bool
	Token     string
	Component string
}

// Logs fetches buffered daemon log events.
func (c *Client) Logs(ctx context.Context, q LogQuery) (*api.LogStreamResponse, error) {
	query := url.Values{}
	if q.Since > 0 {
		query.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		query.Set("follow", "1")
	}
	if q.Tail {
		query.Set("tail", "1")
	}
	if q.Token != "" {
		query.Set("token", q.Token)
	}
	if q.Component != "" {
		query.Set("component", q.Component)
	}
	var resp api.LogStreamResponse
	if err := c.do(ctx, http.MethodGet, withQuery("/api/logs", query), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func withQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case json.RawMessage:
		reader = bytes.NewReader(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload api.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(data))
		}
		return &Error{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
