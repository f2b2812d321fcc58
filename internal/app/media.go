package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/samvad-hq/samvad-course-client/internal/storage"
	"github.com/samvad-hq/samvad-course-client/pkg/course"
	"github.com/samvad-hq/samvad-course-client/pkg/endpoints"
	"github.com/samvad-hq/samvad-course-client/pkg/imaging"
	"github.com/samvad-hq/samvad-course-client/pkg/netclient"
	"golang.org/x/sync/errgroup"
)

// ImageFile is the outcome of downloading one course image.
type ImageFile struct {
	Course    course.Course
	Path      string
	Thumbnail string
	Image     imaging.Image
	Err       error
}

// Submit sends payload to a course endpoint. An empty method uses the endpoint's own.
func (a *App) Submit(ctx context.Context, endpointID, method string, payload map[string]any) ([]course.Course, error) {
	ep, err := a.endpoints.Lookup(endpointID, endpoints.KindCourse)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(method) == "" {
		method = ep.Method
	}
	return a.client.SubmitCourse(ctx, ep.URL, method, payload)
}

// FetchImage downloads the image behind endpointID and writes it to outPath when set.
func (a *App) FetchImage(ctx context.Context, endpointID, outPath string, onProgress func(netclient.ProgressEvent)) (imaging.Image, error) {
	ep, err := a.endpoints.Lookup(endpointID, endpoints.KindImage)
	if err != nil {
		return imaging.Image{}, err
	}

	img, err := a.client.FetchImageWithProgress(ctx, ep.URL, onProgress)
	if err != nil {
		return imaging.Image{}, err
	}
	if outPath != "" {
		if err := writeFile(outPath, img.Data); err != nil {
			return img, err
		}
	}
	return img, nil
}

// DownloadImages fetches the artwork of every course that has an image URL into outDir,
// at most image_concurrency at a time. Files are named by course key; a JPEG thumbnail
// is written beside each one when thumbnail_max_size is set. A failed download does not
// stop the others. Courses sharing a key are downloaded once.
func (a *App) DownloadImages(ctx context.Context, courses []course.Course, outDir string, onProgress func(course.Course, netclient.ProgressEvent)) ([]ImageFile, error) {
	if strings.TrimSpace(outDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	var targets []course.Course
	seen := make(map[string]struct{}, len(courses))
	for _, c := range courses {
		if strings.TrimSpace(c.ImageURL) == "" {
			continue
		}
		// same key, same file name
		key := storage.CourseKey(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		targets = append(targets, c)
	}

	results := make([]ImageFile, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.imageConcurrency())

	for i, c := range targets {
		g.Go(func() error {
			results[i] = a.downloadOne(gctx, c, outDir, onProgress)
			// per-image failures are reported in results; only cancellation aborts the batch
			if errors.Is(results[i].Err, context.Canceled) {
				return results[i].Err
			}
			return nil
		})
	}
	waitErr := g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("course %q: %w", r.Course.Name, r.Err))
			a.log.WarnObj("course image download failed", "image_error", map[string]any{
				"course": r.Course.Name,
				"url":    r.Course.ImageURL,
				"error":  r.Err.Error(),
			})
		}
	}
	if waitErr != nil && len(errs) == 0 {
		errs = append(errs, waitErr)
	}

	a.log.InfoObj("course images downloaded", "image_result", map[string]any{
		"requested": len(targets),
		"failed":    len(errs),
		"dir":       outDir,
	})
	return results, errors.Join(errs...)
}

func (a *App) downloadOne(ctx context.Context, c course.Course, outDir string, onProgress func(course.Course, netclient.ProgressEvent)) ImageFile {
	res := ImageFile{Course: c}

	var report func(netclient.ProgressEvent)
	if onProgress != nil {
		report = func(ev netclient.ProgressEvent) { onProgress(c, ev) }
	}

	img, err := a.client.FetchImageWithProgress(ctx, c.ImageURL, report)
	if err != nil {
		res.Err = err
		return res
	}
	res.Image = img

	key := storage.CourseKey(c)
	res.Path = filepath.Join(outDir, key+extensionFor(img.Format))
	if err := writeFile(res.Path, img.Data); err != nil {
		res.Err = err
		return res
	}

	if size := a.cfg.ThumbnailMaxSize; size > 0 {
		thumb, err := imaging.Thumbnail(img, size, size)
		if err != nil {
			res.Err = fmt.Errorf("thumbnail: %w", err)
			return res
		}
		res.Thumbnail = filepath.Join(outDir, key+"_thumb.jpg")
		if err := writeFile(res.Thumbnail, thumb); err != nil {
			res.Err = err
		}
	}
	return res
}

// Upload posts the image file at path to an upload endpoint and returns the parsed reply.
func (a *App) Upload(ctx context.Context, endpointID, path string) (any, error) {
	ep, err := a.endpoints.Lookup(endpointID, endpoints.KindUpload)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read upload file: %w", err)
	}
	return a.client.UploadImage(ctx, ep.URL, data, ep.Headers)
}

// Raw downloads the body behind any GET endpoint. With asText the body must be UTF-8.
func (a *App) Raw(ctx context.Context, endpointID string, asText bool) ([]byte, error) {
	ep, ok := a.endpoints.ByID(endpointID)
	if !ok {
		return nil, fmt.Errorf("endpoint %q not configured", endpointID)
	}
	if ep.Method != http.MethodGet {
		return nil, fmt.Errorf("endpoint %q uses %s, raw download needs GET", ep.ID, ep.Method)
	}

	if asText {
		text, err := a.client.FetchRawText(ctx, ep.URL)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	}
	return a.client.FetchRawBody(ctx, ep.URL)
}

func extensionFor(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "":
		return ".img"
	default:
		return "." + format
	}
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
