package httpclient

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "samvad-course-client"
)

// Options tunes the shared resty client.
type Options struct {
	Timeout time.Duration
	// UserAgent is sent on every request unless a request overrides it.
	UserAgent string
	// AcceptBrotli advertises br and decodes brotli bodies before resty sees them.
	AcceptBrotli bool
	// Transport overrides the base round tripper (tests, proxies).
	Transport http.RoundTripper
}

// RestyClient adapts resty.Client to the httpclient.Client interface.
type RestyClient struct {
	client *resty.Client
}

// NewRestyClient creates a new RestyClient with the specified options.
func NewRestyClient(opts Options) *RestyClient {
	return &RestyClient{client: NewRestyHTTPClient(opts)}
}

// WrapResty adapts an already configured resty client.
func WrapResty(c *resty.Client) *RestyClient {
	if c == nil {
		c = NewRestyHTTPClient(Options{})
	}
	return &RestyClient{client: c}
}

// NewRestyHTTPClient exposes a configured resty.Client for callers needing custom verbs.
func NewRestyHTTPClient(opts Options) *resty.Client {
	opts = normalizeOptions(opts)

	c := resty.New()
	c.SetTimeout(opts.Timeout)
	c.SetHeader("User-Agent", opts.UserAgent)

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if opts.AcceptBrotli {
		base = &brotliTransport{base: base}
	}
	c.SetTransport(base)
	return c
}

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	opts.UserAgent = strings.TrimSpace(opts.UserAgent)
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return opts
}

// Get performs an HTTP GET request with the specified context, URL, and headers.
func (r *RestyClient) Get(ctx context.Context, url string, headers map[string]string) (Response, error) {
	req := r.client.R().SetContext(ctx)
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}
	resp, err := req.Get(url)
	if err != nil {
		return nil, err
	}
	return &restyResponseAdapter{resp: resp}, nil
}

// restyResponseAdapter adapts resty.Response to the httpclient.Response interface.
type restyResponseAdapter struct {
	resp *resty.Response
}

func (r *restyResponseAdapter) Body() []byte             { return r.resp.Body() }
func (r *restyResponseAdapter) StatusCode() int          { return r.resp.StatusCode() }
func (r *restyResponseAdapter) Header(key string) string { return r.resp.Header().Get(key) }
