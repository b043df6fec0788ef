package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "ithappened/internal/log"
	"ithappened/internal/metrics"
	"ithappened/internal/model"
)

const (
	// DefaultTimeout bounds every call unless overridden with WithTimeout.
	DefaultTimeout = 10 * time.Second

	// RequestIDHeader carries a per-call UUID so client and server logs
	// can be correlated.
	RequestIDHeader = "X-Request-ID"

	maxBodyBytes = 8 << 20
)

const (
	opList   = "list"
	opCreate = "create"
	opDelete = "delete"
)

// Client talks to the remote events API rooted at a base URL.
//
// The base URL is injected by the caller; Client never reads
// configuration on its own.
type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	metrics *metrics.Metrics
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout sets the per-call deadline. Non-positive values keep
// DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records every call in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a Client for the API at baseURL, e.g.
// "https://events.example.com". A trailing slash is ignored.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// List fetches the whole event collection in server order.
// A JSON null body is treated as an empty collection. Anything after the
// JSON value is a decode failure.
func (c *Client) List(ctx context.Context) ([]model.Event, error) {
	var events []model.Event
	err := c.call(ctx, opList, http.MethodGet, "/events", nil, isSuccess, func(body io.Reader) error {
		data, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &events)
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}

// Create submits a new event. The response body is ignored.
func (c *Client) Create(ctx context.Context, req model.CreateEventRequest) error {
	return c.call(ctx, opCreate, http.MethodPost, "/events", req, isOKOrCreated, nil)
}

// Delete removes the event with the given id.
func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.call(ctx, opDelete, http.MethodDelete, "/events/"+strconv.FormatInt(id, 10), nil, isOKOrCreated, nil)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func isOKOrCreated(code int) bool {
	return code == http.StatusOK || code == http.StatusCreated
}

// call performs one request under the client deadline. payload, if
// non-nil, is sent as JSON. read, if non-nil, consumes the body of an
// accepted response.
func (c *Client) call(ctx context.Context, op, method, path string, payload any, accept func(int) bool, read func(io.Reader) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	requestID := uuid.NewString()
	defer func() {
		c.observe(op, start, err)
		if err != nil {
			appLog.Error("api call failed", err, "op", op, "request_id", requestID, "duration", time.Since(start))
		}
	}()

	var body io.Reader
	if payload != nil {
		data, merr := json.Marshal(payload)
		if merr != nil {
			return &Error{Op: op, Kind: ErrDecode, Err: merr}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Kind: ErrNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	appLog.Debug("api call start", "op", op, "method", method, "url", redactURL(req.URL), "request_id", requestID)

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxBodyBytes)

	if !accept(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, limited)
		return &Error{Op: op, Kind: ErrUnexpectedStatus, StatusCode: resp.StatusCode}
	}

	if read == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, limited)
	} else if rerr := read(limited); rerr != nil {
		if ctx.Err() != nil {
			return transportError(ctx, op, rerr)
		}
		return &Error{Op: op, Kind: ErrDecode, Err: rerr}
	}

	appLog.Info("api call success", "op", op, "status", resp.StatusCode, "request_id", requestID, "duration", time.Since(start))
	return nil
}

func (c *Client) observe(op string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.APIRequests.WithLabelValues(op, outcome(err)).Inc()
	c.metrics.APIRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// redactURL drops credentials and the query string before logging.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clean := *u
	clean.User = nil
	clean.RawQuery = ""
	clean.Fragment = ""
	return clean.String()
}
