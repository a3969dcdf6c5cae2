// Package proxy performs outbound requests to third-party APIs on behalf of the
// engine and of browser clients, so tokens and cross-origin rules stay server side.
package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Request describes one upstream call.
type Request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    interface{}       `json:"body,omitempty"`
}

// Response wraps the upstream reply. Data is the upstream JSON body, or the text
// body encoded as a JSON string when the upstream did not answer with JSON.
type Response struct {
	Data       json.RawMessage   `json:"data"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
}

// OK reports a 2xx upstream status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Proxy is the collaborator the task engine submits and polls through.
type Proxy interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Observer is notified after every upstream exchange; err is set on transport failure.
type Observer func(method string, status int, err error)

// Client is the resty-backed Proxy.
type Client struct {
	http     *resty.Client
	observer Observer
}

type Option func(*Client)

// WithTimeout bounds each upstream call. Zero keeps the transport default (none).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// WithHTTPClient swaps the underlying transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = resty.NewWithClient(hc)
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{http: resty.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do forwards req upstream. A non-2xx upstream status is not an error: it is
// reported through Response.Status for the caller to judge.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if req.URL == "" {
		return nil, errors.New("proxy: empty url")
	}

	r := c.http.R().SetContext(ctx).SetHeaders(req.Headers)
	if req.Body != nil {
		if _, ok := req.Headers["Content-Type"]; !ok {
			r.SetHeader("Content-Type", "application/json")
		}
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(method, req.URL)
	if err != nil {
		c.observe(method, 0, err)
		return nil, errors.Wrapf(err, "proxy %s %s", method, req.URL)
	}
	c.observe(method, resp.StatusCode(), nil)

	headers := make(map[string]string, len(resp.Header()))
	for k := range resp.Header() {
		headers[strings.ToLower(k)] = resp.Header().Get(k)
	}
	return &Response{
		Data:       asJSON(resp.Body()),
		Status:     resp.StatusCode(),
		StatusText: http.StatusText(resp.StatusCode()),
		Headers:    headers,
	}, nil
}

func (c *Client) observe(method string, status int, err error) {
	if c.observer != nil {
		c.observer(method, status, err)
	}
}

func asJSON(body []byte) json.RawMessage {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	encoded, _ := json.Marshal(string(body))
	return encoded
}
