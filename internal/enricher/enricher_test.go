package enricher

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/samvad-hq/samvad-course-client/pkg/course"
	"github.com/samvad-hq/samvad-course-client/pkg/httpclient"
)

// stubHTTPResponse implements httpclient.Response.
type stubHTTPResponse struct {
	body       []byte
	statusCode int
}

func (s stubHTTPResponse) Body() []byte           { return s.body }
func (s stubHTTPResponse) StatusCode() int        { return s.statusCode }
func (s stubHTTPResponse) Header(_ string) string { return "" }

// stubHTTPClient serves canned pages by URL and records requests.
type stubHTTPClient struct {
	mu      sync.Mutex
	pages   map[string]stubHTTPResponse
	calls   []string
	headers []map[string]string
	onGet   func(url string)
}

func (s *stubHTTPClient) Get(_ context.Context, url string, headers map[string]string) (httpclient.Response, error) {
	if s.onGet != nil {
		s.onGet(url)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, url)
	s.headers = append(s.headers, headers)
	resp, ok := s.pages[url]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return resp, nil
}

// recordingLogger counts warnings.
type recordingLogger struct {
	noopLogger
	warnings int
}

func (r *recordingLogger) WarnObj(string, string, any) { r.warnings++ }

func TestParseImagePrefersOG(t *testing.T) {
	html := []byte(`
<html>
  <head>
    <meta name="twitter:image" content="/tw.png">
    <meta property="og:image" content=" /og.png ">
  </head>
</html>`)

	got, err := parseImage(html)
	if err != nil {
		t.Fatalf("parseImage: %v", err)
	}
	if got != "/og.png" {
		t.Fatalf("parseImage = %q", got)
	}

	got, _ = parseImage([]byte(`<meta name="twitter:image" content="https://cdn/tw.png">`))
	if got != "https://cdn/tw.png" {
		t.Fatalf("twitter fallback = %q", got)
	}
}

func TestResolveURLHandlesRelative(t *testing.T) {
	got := resolveURL("/img.png", "https://swiftbook.ru/courses/1")
	if got != "https://swiftbook.ru/img.png" {
		t.Fatalf("resolveURL got %q", got)
	}
	if got := resolveURL("https://cdn/x.png", "https://a/b"); got != "https://cdn/x.png" {
		t.Fatalf("absolute ref changed: %q", got)
	}
	if got := resolveURL("", "https://example.com"); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestEnrichFillsOnlyMissingImages(t *testing.T) {
	client := &stubHTTPClient{pages: map[string]stubHTTPResponse{
		"https://a/course": {statusCode: 200, body: []byte(`<meta property="og:image" content="cover.jpg">`)},
		"https://b/course": {statusCode: 404, body: []byte("not found")},
	}}
	log := &recordingLogger{}
	e := New(client, WithLogger(log), WithDelay(1))

	in := []course.Course{
		{Name: "A", Link: "https://a/course"},
		{Name: "B", Link: "https://b/course"},
		{Name: "C", Link: "https://c/course", ImageURL: "https://c/has.png"},
		{Name: "D"},
	}
	out := e.Enrich(context.Background(), in)

	if len(out) != 4 {
		t.Fatalf("expected 4 courses, got %d", len(out))
	}
	if out[0].ImageURL != "https://a/cover.jpg" {
		t.Fatalf("course A image = %q", out[0].ImageURL)
	}
	if out[1].ImageURL != "" || out[2].ImageURL != "https://c/has.png" {
		t.Fatalf("unexpected images %#v", out)
	}
	if in[0].ImageURL != "" {
		t.Fatalf("input slice mutated")
	}
	if len(client.calls) != 2 {
		t.Fatalf("expected 2 page fetches, got %v", client.calls)
	}
	if log.warnings != 1 {
		t.Fatalf("expected 1 warning, got %d", log.warnings)
	}
}

func TestEnrichLimitsBody(t *testing.T) {
	body := append(bytes.Repeat([]byte("a"), maxHTMLBodyBytes), []byte(`<meta property="og:image" content="late.png">`)...)
	client := &stubHTTPClient{pages: map[string]stubHTTPResponse{
		"https://a/": {statusCode: 200, body: body},
	}}

	out := New(client).Enrich(context.Background(), []course.Course{{Name: "A", Link: "https://a/"}})
	if out[0].ImageURL != "" {
		t.Fatalf("tag past the body limit should be ignored, got %q", out[0].ImageURL)
	}
}

func TestEnrichStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &stubHTTPClient{}
	in := []course.Course{{Name: "A", Link: "https://a/"}, {Name: "B", Link: "https://b/"}}
	out := New(client).Enrich(ctx, in)
	if len(client.calls) != 0 {
		t.Fatalf("expected no fetches after cancel, calls=%v", client.calls)
	}
	if len(out) != len(in) || out[0] != in[0] || out[1] != in[1] {
		t.Fatalf("expected every course back unchanged, got %v", out)
	}
}

func TestEnrichCancelledMidwayKeepsRemainingCourses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	page := stubHTTPResponse{statusCode: 200, body: []byte(`<meta property="og:image" content="https://cdn/a.png">`)}
	client := &stubHTTPClient{
		pages: map[string]stubHTTPResponse{"https://a/": page, "https://b/": page, "https://c/": page},
		onGet: func(string) { cancel() },
	}
	in := []course.Course{
		{Name: "A", Link: "https://a/"},
		{Name: "B", Link: "https://b/"},
		{Name: "C", Link: "https://c/"},
	}
	out := New(client).Enrich(ctx, in)
	if len(out) != 3 {
		t.Fatalf("expected 3 courses, got %d", len(out))
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected a single fetch before cancel, calls=%v", client.calls)
	}
	if out[1].ImageURL != "" || out[2].ImageURL != "" {
		t.Fatalf("courses after cancel should be untouched: %v", out)
	}
}

func TestEnrichSendsConfiguredHeaders(t *testing.T) {
	client := &stubHTTPClient{pages: map[string]stubHTTPResponse{
		"https://a/": {statusCode: 200, body: []byte(`<html></html>`)},
	}}
	headers := map[string]string{"Accept-Language": "ru"}
	New(client, WithHeaders(headers)).Enrich(context.Background(), []course.Course{{Name: "A", Link: "https://a/"}})

	if len(client.headers) != 1 || client.headers[0]["Accept-Language"] != "ru" {
		t.Fatalf("headers not forwarded: %v", client.headers)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", " ", "foo", "bar"); got != "foo" {
		t.Fatalf("firstNonEmpty returned %q", got)
	}
}
