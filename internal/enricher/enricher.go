package enricher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samvad-hq/samvad-course-client/pkg/course"
	"github.com/samvad-hq/samvad-course-client/pkg/httpclient"
)

const (
	maxHTMLBodyBytes = 1 << 20 // 1 MiB
	maxErrorSnippet  = 512
)

// Logger is the logging contract the enricher writes through.
type Logger interface {
	InfoObj(msg, key string, obj any)
	DebugObj(msg, key string, obj any)
	WarnObj(msg, key string, obj any)
	ErrorObj(msg, key string, obj any)
}

type noopLogger struct{}

func (noopLogger) InfoObj(string, string, any)  {}
func (noopLogger) DebugObj(string, string, any) {}
func (noopLogger) WarnObj(string, string, any)  {}
func (noopLogger) ErrorObj(string, string, any) {}

// Enricher fills missing course artwork from the og:image tag of the course page.
type Enricher struct {
	client  httpclient.Client
	delay   time.Duration
	headers map[string]string
	log     Logger
}

// Option customises an Enricher.
type Option func(*Enricher)

// WithDelay pauses between page fetches.
func WithDelay(d time.Duration) Option {
	return func(e *Enricher) { e.delay = d }
}

// WithHeaders sets headers sent with every page fetch.
func WithHeaders(h map[string]string) Option {
	return func(e *Enricher) { e.headers = h }
}

// WithLogger routes enrichment warnings to log.
func WithLogger(log Logger) Option {
	return func(e *Enricher) {
		if log != nil {
			e.log = log
		}
	}
}

// New constructs an enricher around client. A nil client gets the default resty adapter.
func New(client httpclient.Client, opts ...Option) *Enricher {
	if client == nil {
		client = httpclient.NewRestyClient(httpclient.Options{})
	}
	e := &Enricher{client: client, log: noopLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich returns copies of courses with ImageURL filled where the page advertises one.
// On cancellation the remaining courses are returned unchanged; callers check ctx.Err.
func (e *Enricher) Enrich(ctx context.Context, courses []course.Course) []course.Course {
	out := append([]course.Course(nil), courses...)
	if e == nil {
		return out
	}

	fetched := 0
	for i, c := range courses {
		select {
		case <-ctx.Done():
			return out
		default:
		}

		if strings.TrimSpace(c.ImageURL) != "" || strings.TrimSpace(c.Link) == "" {
			continue
		}

		if fetched > 0 && e.delay > 0 {
			timer := time.NewTimer(e.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return out
			case <-timer.C:
			}
		}
		fetched++

		image, err := e.pageImage(ctx, c.Link)
		if err != nil {
			e.log.WarnObj("course image lookup failed", "enrich_error", map[string]any{
				"course": c.Name,
				"link":   c.Link,
				"error":  err.Error(),
			})
			continue
		}
		if image != "" {
			out[i].ImageURL = image
		}
	}

	return out
}

func (e *Enricher) pageImage(ctx context.Context, link string) (string, error) {
	resp, err := e.client.Get(ctx, link, e.headers)
	if err != nil {
		return "", fmt.Errorf("http fetch: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		snippet := strings.TrimSpace(string(resp.Body()))
		if len(snippet) > maxErrorSnippet {
			snippet = snippet[:maxErrorSnippet]
		}
		return "", fmt.Errorf("status %d body: %s", resp.StatusCode(), snippet)
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}

	image, err := parseImage(body)
	if err != nil {
		return "", err
	}
	return resolveURL(image, link), nil
}

func parseImage(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	extract := func(sel string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr("content"); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	return firstNonEmpty(
		extract(`meta[property="og:image"]`),
		extract(`meta[property="og:image:url"]`),
		extract(`meta[name="twitter:image"]`),
	), nil
}

func resolveURL(ref, base string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if r.IsAbs() {
		return r.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
