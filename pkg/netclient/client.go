// Package netclient is the course backend client: typed JSON requests, raw and text
// downloads, image downloads with progress, and multipart image uploads.
//
// Every operation blocks the calling goroutine until a single terminal result is
// available and never retries. Wrap calls with dispatch.Go for non-blocking use.
package netclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/samvad-hq/samvad-course-client/pkg/course"
	"github.com/samvad-hq/samvad-course-client/pkg/httpclient"
	"github.com/samvad-hq/samvad-course-client/pkg/imaging"
)

// MultipartImageField is the form field name used by UploadImage.
const MultipartImageField = "image"

// Options configures a Client.
type Options struct {
	HTTP httpclient.Options
	// Resty, when set, is used as-is and HTTP is ignored.
	Resty  *resty.Client
	Logger Logger
}

// Client issues requests against caller-supplied URLs. It holds no per-call state and is
// safe for concurrent use.
type Client struct {
	http *resty.Client
	log  Logger
}

// New builds a Client.
func New(opts Options) *Client {
	rc := opts.Resty
	if rc == nil {
		rc = httpclient.NewRestyHTTPClient(opts.HTTP)
	}
	return &Client{
		http: rc,
		log:  ensureLogger(opts.Logger),
	}
}

// FetchCourses GETs a JSON array of courses. Non-2xx responses fail with ErrValidation;
// array elements that are not valid courses are skipped.
func (c *Client) FetchCourses(ctx context.Context, rawURL string) ([]course.Course, error) {
	resp, err := c.send(ctx, c.http.R(), http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, validationError(resp, http.MethodGet, rawURL)
	}

	v, err := course.ParseJSON(resp.Body())
	if err != nil {
		return nil, decodeError(resp, http.MethodGet, rawURL, err)
	}
	if _, ok := v.([]any); !ok {
		return nil, decodeError(resp, http.MethodGet, rawURL, fmt.Errorf("expected JSON array, got %s", jsonKind(v)))
	}
	return course.DecodeList(v), nil
}

// FetchRawBody returns the response body whatever the status.
func (c *Client) FetchRawBody(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.send(ctx, c.http.R(), http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// FetchRawText returns the response body as text whatever the status. Bodies that are
// not valid UTF-8 fail with ErrEncoding.
func (c *Client) FetchRawText(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.send(ctx, c.http.R(), http.MethodGet, rawURL)
	if err != nil {
		return "", err
	}
	body := resp.Body()
	if !utf8.Valid(body) {
		return "", &RequestError{
			Kind:       KindEncoding,
			Method:     http.MethodGet,
			URL:        rawURL,
			StatusCode: resp.StatusCode(),
			Err:        errors.New("body is not valid UTF-8"),
		}
	}
	return string(body), nil
}

// FetchImage downloads and decodes an image. The status is not validated; a body that is
// not a supported image fails with ErrDecode.
func (c *Client) FetchImage(ctx context.Context, rawURL string) (imaging.Image, error) {
	resp, err := c.send(ctx, c.http.R(), http.MethodGet, rawURL)
	if err != nil {
		return imaging.Image{}, err
	}
	img, err := imaging.Decode(resp.Body())
	if err != nil {
		return imaging.Image{}, decodeError(resp, http.MethodGet, rawURL, err)
	}
	return img, nil
}

// FetchImageWithProgress streams an image, calling onProgress on the calling goroutine as
// chunks arrive. The last progress event carries FractionCompleted 1 and precedes the return.
// Non-2xx responses fail with ErrValidation before any progress is reported.
func (c *Client) FetchImageWithProgress(ctx context.Context, rawURL string, onProgress func(ProgressEvent)) (imaging.Image, error) {
	req := c.http.R().SetDoNotParseResponse(true)
	resp, err := c.send(ctx, req, http.MethodGet, rawURL)
	if err != nil {
		return imaging.Image{}, err
	}

	body := resp.RawBody()
	if body == nil {
		body = io.NopCloser(bytes.NewReader(nil))
	}
	defer body.Close()

	if !resp.IsSuccess() {
		snippetBody, _ := io.ReadAll(io.LimitReader(body, 512))
		return imaging.Image{}, &RequestError{
			Kind:       KindValidation,
			Method:     http.MethodGet,
			URL:        rawURL,
			StatusCode: resp.StatusCode(),
			Body:       snippetBody,
		}
	}

	total := int64(-1)
	if resp.RawResponse != nil {
		total = resp.RawResponse.ContentLength
	}

	pr := newProgressReader(body, total, onProgress)
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}
	if _, err := io.Copy(&buf, pr); err != nil {
		return imaging.Image{}, &RequestError{
			Kind:       KindTransport,
			Method:     http.MethodGet,
			URL:        rawURL,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("read body: %w", err),
		}
	}
	pr.finish()

	img, err := imaging.Decode(buf.Bytes())
	if err != nil {
		return imaging.Image{}, &RequestError{
			Kind:       KindDecode,
			Method:     http.MethodGet,
			URL:        rawURL,
			StatusCode: resp.StatusCode(),
			Err:        err,
		}
	}
	return img, nil
}

// SubmitCourse sends payload as JSON with POST or PUT and decodes the single course the
// server echoes back. The status code is not used to fail the call.
func (c *Client) SubmitCourse(ctx context.Context, rawURL, method string, payload map[string]any) ([]course.Course, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method != http.MethodPost && method != http.MethodPut {
		return nil, fmt.Errorf("%w: unsupported method %q (want POST or PUT)", ErrInvalidRequest, method)
	}
	if payload == nil {
		payload = map[string]any{}
	}

	req := c.http.R().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(payload)

	resp, err := c.send(ctx, req, method, rawURL)
	if err != nil {
		return nil, err
	}

	v, err := course.ParseJSON(resp.Body())
	if err != nil {
		return nil, decodeError(resp, method, rawURL, err)
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, decodeError(resp, method, rawURL, fmt.Errorf("expected JSON object, got %s", jsonKind(v)))
	}
	created, ok := course.Decode(v)
	if !ok {
		return nil, decodeError(resp, method, rawURL, errors.New("course fields missing or malformed"))
	}
	return []course.Course{created}, nil
}

// UploadImage posts imageBytes as the single multipart field "image", merging headers into
// the request, and returns the decoded JSON reply. Non-2xx responses fail with ErrValidation.
func (c *Client) UploadImage(ctx context.Context, rawURL string, imageBytes []byte, headers map[string]string) (any, error) {
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidRequest)
	}

	req := c.http.R().SetMultipartFields(&resty.MultipartField{
		Param:       MultipartImageField,
		FileName:    MultipartImageField,
		ContentType: http.DetectContentType(imageBytes),
		Reader:      bytes.NewReader(imageBytes),
	})
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}

	resp, err := c.send(ctx, req, http.MethodPost, rawURL)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, validationError(resp, http.MethodPost, rawURL)
	}

	v, err := course.ParseJSON(resp.Body())
	if err != nil {
		return nil, decodeError(resp, http.MethodPost, rawURL, err)
	}
	return v, nil
}

// send validates the URL, executes req and converts network failures into KindTransport errors.
func (c *Client) send(ctx context.Context, req *resty.Request, method, rawURL string) (*resty.Response, error) {
	if err := checkURL(rawURL); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	resp, err := req.SetContext(ctx).Execute(method, rawURL)
	if err != nil {
		c.log.WarnObj("request failed", "http_error", map[string]any{
			"method": method,
			"url":    rawURL,
			"error":  err.Error(),
		})
		return nil, &RequestError{Kind: KindTransport, Method: method, URL: rawURL, Err: err}
	}

	c.log.DebugObj("request completed", "http_request", map[string]any{
		"method":     method,
		"url":        rawURL,
		"status":     resp.StatusCode(),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return resp, nil
}

func checkURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported url scheme %q", ErrInvalidRequest, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url %q has no host", ErrInvalidRequest, rawURL)
	}
	return nil
}

func validationError(resp *resty.Response, method, rawURL string) error {
	return &RequestError{
		Kind:       KindValidation,
		Method:     method,
		URL:        rawURL,
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
	}
}

func decodeError(resp *resty.Response, method, rawURL string, cause error) error {
	return &RequestError{
		Kind:       KindDecode,
		Method:     method,
		URL:        rawURL,
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Err:        cause,
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}
