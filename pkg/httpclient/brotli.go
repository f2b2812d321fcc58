package httpclient

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// brotliTransport asks for br and unwraps brotli encoded bodies.
// Requests that already set Accept-Encoding are passed through untouched.
type brotliTransport struct {
	base http.RoundTripper
}

func (t *brotliTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") != "" {
		return t.base.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	clone.Header.Set("Accept-Encoding", "br")

	resp, err := t.base.RoundTrip(clone)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "br") {
		return resp, nil
	}

	resp.Body = &brotliBody{r: brotli.NewReader(resp.Body), c: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

type brotliBody struct {
	r io.Reader
	c io.Closer
}

func (b *brotliBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *brotliBody) Close() error               { return b.c.Close() }
