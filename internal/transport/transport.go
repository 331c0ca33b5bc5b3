// Package transport makes the outbound HTTP calls shared by the broker's
// callback delivery (Registration.OnEvent) and a router's REST calls to the
// broker (EventCenterAdapter). It exists to give connection failures a
// distinct type from ordinary non-2xx responses, since the two are handled
// differently by every caller: a ConnectionError means "the remote process
// is gone," a non-2xx response means "the remote process rejected this."
package transport

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
	"time"
)

var jsonContentType = map[string][]string{"Content-Type": {"application/json"}}

// ConnectionError means the target process could not be reached at all:
// DNS failure, refused connection, or a timeout establishing the TCP
// session. It carries the URL and body that were attempted so a caller can
// report what failed without re-deriving it.
type ConnectionError struct {
	URL  string
	Body any
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error posting to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Response is the decoded result of a successful round trip.
type Response struct {
	StatusCode int
	Body       []byte
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Client posts JSON bodies and classifies failures into ConnectionError vs.
// ordinary HTTP responses.
type Client struct {
	http    *http.Client
	Timeout time.Duration
}

// NewClient builds a Client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
}

// PostJSON marshals body, POSTs it as application/json to url, and returns
// the raw response. A connection-level failure (refused, no route, DNS,
// timeout establishing the connection) is returned as *ConnectionError so
// callers can tell "nobody is listening" apart from "listening, and said
// no."
func (c *Client) PostJSON(ctx context.Context, url string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = jsonContentType

	resp, err := c.http.Do(req)
	if err != nil {
		if isConnectionError(err) {
			return nil, &ConnectionError{URL: url, Body: body, Err: err}
		}
		return nil, fmt.Errorf("posting to %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// isConnectionError reports whether err is a network-level failure. Every
// error http.Client.Do returns is a *url.Error, which itself satisfies
// net.Error, so every Do failure (refused connection, DNS failure, timeout,
// cancelled context, unsupported URL scheme) is classified as a connection
// error. Errors while reading the response body are not passed through here.
func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isConnectionError(urlErr.Err)
	}
	return false
}
