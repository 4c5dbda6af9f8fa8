// Package client talks to a running streamrec daemon over its control API.
// The CLI uses it so that one-shot commands still go through the daemon's
// single supervisor.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/foundation/errors"
	"git.home.luguber.info/inful/streamrec/internal/health"
	"git.home.luguber.info/inful/streamrec/internal/reconcile"
	"git.home.luguber.info/inful/streamrec/internal/scheduler"
	"git.home.luguber.info/inful/streamrec/internal/server/handlers"
	"git.home.luguber.info/inful/streamrec/internal/server/responses"
	"git.home.luguber.info/inful/streamrec/internal/supervisor"
	"git.home.luguber.info/inful/streamrec/internal/version"
)

// DefaultTimeout covers a start with a full confirmation window.
const DefaultTimeout = 90 * time.Second

// Client is a control API client.
type Client struct {
	baseURL    string
	apiKey     string
	manual     bool
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// AsManual marks control requests as coming from an operator.
func AsManual() Option { return func(c *Client) { c.manual = true } }

// New creates a client for baseURL, e.g. "http://127.0.0.1:8787". A bare
// host:port is accepted.
func New(baseURL, apiKey string, opts ...Option) *Client {
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start asks the daemon to start recording. streamURL and scheduleID are optional.
func (c *Client) Start(ctx context.Context, streamURL, scheduleID string) (supervisor.Result, error) {
	var res supervisor.Result
	err := c.do(ctx, http.MethodPost, "/api/v1/recording/start",
		responses.StartRequest{URL: streamURL, ScheduleID: scheduleID}, &res)
	return res, err
}

// Stop asks the daemon to stop recording.
func (c *Client) Stop(ctx context.Context) (supervisor.Result, error) {
	var res supervisor.Result
	err := c.do(ctx, http.MethodPost, "/api/v1/recording/stop", nil, &res)
	return res, err
}

// Recording returns the active session, if any.
func (c *Client) Recording(ctx context.Context) (responses.RecordingResponse, error) {
	var res responses.RecordingResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/recording", nil, &res)
	return res, err
}

// Health returns the latest health record.
func (c *Client) Health(ctx context.Context) (health.Record, error) {
	var res health.Record
	err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &res)
	return res, err
}

// Scheduler returns the control loop state.
func (c *Client) Scheduler(ctx context.Context) (responses.SchedulerResponse, error) {
	var res responses.SchedulerResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/scheduler", nil, &res)
	return res, err
}

// Tick runs one control loop tick.
func (c *Client) Tick(ctx context.Context) (scheduler.Decision, error) {
	var res scheduler.Decision
	err := c.do(ctx, http.MethodPost, "/api/v1/scheduler/tick", nil, &res)
	return res, err
}

// Reconcile runs one reconciliation pass.
func (c *Client) Reconcile(ctx context.Context) (reconcile.Report, error) {
	var res reconcile.Report
	err := c.do(ctx, http.MethodPost, "/api/v1/reconcile", nil, &res)
	return res, err
}

// Activity lists recent entries, optionally filtered by action.
func (c *Client) Activity(ctx context.Context, limit int, action string) (responses.ActivityResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if action != "" {
		q.Set("action", action)
	}
	endpoint := "/api/v1/activity"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var res responses.ActivityResponse
	err := c.do(ctx, http.MethodGet, endpoint, nil, &res)
	return res, err
}

// Change returns the current change stamp.
func (c *Client) Change(ctx context.Context) (int64, error) {
	var res responses.ChangeResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/change", nil, &res)
	return res.Change, err
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "invalid daemon address").
			WithContext("address", c.baseURL).
			Build()
	}
	rel, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	u.Path = path.Join(u.Path, rel.Path)
	u.RawQuery = rel.RawQuery

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.manual {
		req.Header.Set(handlers.InitiatorHeader, "manual")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "streamrec/"+version.Version)
	return req, nil
}

// do performs a request. A non-2xx response is decoded into result when it
// carries a control result, and returned as a classified error either way.
func (c *Client) do(ctx context.Context, method, endpoint string, body, result any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NetworkError("daemon is not reachable").
			WithCause(err).
			WithContext("address", c.baseURL).
			Build()
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.NetworkError("failed to read daemon response").WithCause(err).Build()
	}

	if resp.StatusCode < 300 {
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(data, result); err != nil {
			return errors.WrapError(err, errors.CategoryInternal, "failed to decode daemon response").Build()
		}
		return nil
	}
	return decodeError(resp.StatusCode, data, result)
}

func decodeError(status int, data []byte, result any) error {
	if res, ok := result.(*supervisor.Result); ok {
		if json.Unmarshal(data, res) == nil && res.Status != "" {
			return errors.NewError(categoryForStatus(status), res.Message).
				WithContext("status", string(res.Status)).
				Build()
		}
	}

	var payload errors.HTTPErrorResponse
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		category := errors.ErrorCategory(payload.Code)
		if category == "" {
			category = categoryForStatus(status)
		}
		return errors.NewError(category, payload.Error).WithContextMap(payload.Details).Build()
	}
	return errors.NewError(categoryForStatus(status), fmt.Sprintf("daemon returned %s", http.StatusText(status))).
		WithContext("status_code", status).
		Build()
}

// categoryForStatus inverts the HTTP adapter's status mapping.
func categoryForStatus(status int) errors.ErrorCategory {
	switch status {
	case http.StatusBadRequest:
		return errors.CategoryValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.CategoryAuth
	case http.StatusNotFound:
		return errors.CategoryNotFound
	case http.StatusRequestTimeout:
		return errors.CategoryCanceled
	case http.StatusConflict:
		return errors.CategoryAlreadyActive
	case http.StatusBadGateway:
		return errors.CategoryLaunch
	case http.StatusGatewayTimeout:
		return errors.CategoryNoFrames
	case http.StatusServiceUnavailable:
		return errors.CategoryDaemon
	default:
		return errors.CategoryInternal
	}
}
