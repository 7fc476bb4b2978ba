package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultEndpoint is where vrnav-d listens unless configured otherwise.
const DefaultEndpoint = "http://127.0.0.1:8095"

// Client talks to the vrnav-d HTTP API.
type Client struct {
	endpoint string
	http     *http.Client
	retry    RetryPolicy
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy sets how often idempotent reads are retried and how long
// to wait between attempts.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// NewClient creates a new client.
// endpoint defaults to DefaultEndpoint if empty.
func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var status Status
	err := c.getJSON(ctx, "/v1/health", &status)
	return status, err
}

// ListMaps returns the maps in the daemon's store.
func (c *Client) ListMaps(ctx context.Context) ([]MapEntry, error) {
	var maps []MapEntry
	err := c.getJSON(ctx, "/v1/maps", &maps)
	return maps, err
}

// ImportMap uploads a package archive.
func (c *Client) ImportMap(ctx context.Context, archive []byte) (MapEntry, error) {
	var resp struct {
		Map  MapInfo `json:"map"`
		Path string  `json:"path"`
	}
	if err := c.send(ctx, http.MethodPost, "/v1/maps", "application/octet-stream", archive, &resp); err != nil {
		return MapEntry{}, err
	}
	return MapEntry{MapInfo: resp.Map, Path: resp.Path}, nil
}

// RemoveMap deletes a stored map.
func (c *Client) RemoveMap(ctx context.Context, info MapInfo) error {
	return c.send(ctx, http.MethodDelete, mapPath(info), "", nil, nil)
}

// StartSession opens a tour at the map's start point.
func (c *Client) StartSession(ctx context.Context, opts StartOptions) (Session, error) {
	var sess Session
	err := c.sendJSON(ctx, http.MethodPost, "/v1/sessions", opts, &sess)
	return sess, err
}

// ListSessions returns every open session.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	err := c.getJSON(ctx, "/v1/sessions", &sessions)
	return sessions, err
}

// GetSession fetches a session's current state.
func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := c.getJSON(ctx, sessionPath(id, ""), &sess)
	return sess, err
}

// EndSession closes a session and frees its images.
func (c *Client) EndSession(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, sessionPath(id, ""), "", nil, nil)
}

// GoTo moves a session to location.
func (c *Client) GoTo(ctx context.Context, id string, location int) (Session, error) {
	return c.move(ctx, id, "goto", location)
}

// Hover starts a hover over the hotspot leading to location.
func (c *Client) Hover(ctx context.Context, id string, location int) (Session, error) {
	return c.move(ctx, id, "hover", location)
}

// Unhover ends a hover.
func (c *Client) Unhover(ctx context.Context, id string, location int) (Session, error) {
	return c.move(ctx, id, "unhover", location)
}

func (c *Client) move(ctx context.Context, id, action string, location int) (Session, error) {
	var sess Session
	body := map[string]int{"location_id": location}
	err := c.sendJSON(ctx, http.MethodPost, sessionPath(id, action), body, &sess)
	return sess, err
}

// SetOrientation reports the viewer's heading in degrees.
func (c *Client) SetOrientation(ctx context.Context, id string, degrees float64) error {
	return c.sendJSON(ctx, http.MethodPost, sessionPath(id, "orientation"), map[string]float64{"degrees": degrees}, nil)
}

// Image downloads the current location's image and its content type.
func (c *Client) Image(ctx context.Context, id string) ([]byte, string, error) {
	resp, err := c.get(ctx, sessionPath(id, "image"))
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// TripCSV downloads a session's trip log.
func (c *Client) TripCSV(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.get(ctx, sessionPath(id, "trip.csv"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func mapPath(info MapInfo) string {
	return fmt.Sprintf("/v1/maps/%s/%s", url.PathEscape(info.Name), strconv.FormatFloat(info.Version, 'f', -1, 64))
}

func sessionPath(id, action string) string {
	p := "/v1/sessions/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// get performs an idempotent read, retrying transport errors and overload
// replies per the client's RetryPolicy.
func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	var lastErr error
	var wait time.Duration
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(c.retry.Delay(attempt, wait))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, wait = err, 0
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		apiErr := readError(resp)
		resp.Body.Close()
		if !c.retry.Retryable(resp.StatusCode) {
			return nil, apiErr
		}
		lastErr, wait = apiErr, retryAfter(resp.Header, time.Now())
	}
	return nil, lastErr
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.send(ctx, method, path, "application/json", body, out)
}

// send performs a single non-idempotent request.
func (c *Client) send(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, rdr)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func readError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
