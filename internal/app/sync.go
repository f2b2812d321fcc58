package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samvad-hq/samvad-course-client/internal/storage"
	"github.com/samvad-hq/samvad-course-client/pkg/course"
	"github.com/samvad-hq/samvad-course-client/pkg/endpoints"
	"github.com/samvad-hq/samvad-course-client/pkg/publishers"
)

// SyncResult summarises one catalog fetch.
type SyncResult struct {
	EndpointID string
	Courses    []course.Course
	New        int
	// Published counts new courses delivered to at least one publisher.
	Published  int
}

// SyncCourses fetches the catalog behind endpointID, fills missing artwork, stores a
// snapshot and announces courses not seen before. The fetched catalog is returned
// even when some publishes fail.
func (a *App) SyncCourses(ctx context.Context, endpointID string) (SyncResult, error) {
	ep, err := a.endpoints.Lookup(endpointID, endpoints.KindCourses)
	if err != nil {
		return SyncResult{}, err
	}

	start := time.Now()
	courses, err := a.client.FetchCourses(ctx, ep.URL)
	if err != nil {
		return SyncResult{EndpointID: ep.ID}, fmt.Errorf("fetch courses from %s: %w", ep.ID, err)
	}

	if a.enricher != nil {
		courses = a.enricher.Enrich(ctx, courses)
	}
	// A cancelled enrichment leaves a partial catalog; keep the previous snapshot.
	if err := ctx.Err(); err != nil {
		return SyncResult{EndpointID: ep.ID}, fmt.Errorf("sync %s: %w", ep.ID, err)
	}

	if err := a.store.SaveSnapshot(ep.ID, courses); err != nil {
		a.log.WarnObj("snapshot save failed", "storage_error", map[string]any{
			"endpoint_id": ep.ID,
			"error":       err.Error(),
		})
	}

	res := SyncResult{EndpointID: ep.ID, Courses: courses}
	fresh := a.filterNewCourses(ep.ID, courses)
	res.New = len(fresh)

	var errs []error
	for _, c := range fresh {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		delivered, err := a.fanout.Publish(ctx, publishers.NewEvent(ep.ID, c))
		if err != nil {
			errs = append(errs, fmt.Errorf("course %q: %w", c.Name, err))
			continue
		}
		if delivered > 0 {
			res.Published++
		}
		if err := a.store.MarkCourse(storage.CourseKey(c)); err != nil {
			a.log.WarnObj("mark course failed", "storage_error", map[string]any{
				"course": c.Name,
				"error":  err.Error(),
			})
		}
	}

	a.log.InfoObj("course sync completed", "sync_result", map[string]any{
		"endpoint_id": ep.ID,
		"courses":     len(courses),
		"new":         res.New,
		"published":   res.Published,
		"publishers":  a.fanout.Size(),
		"elapsed_ms":  time.Since(start).Milliseconds(),
	})
	return res, errors.Join(errs...)
}

// filterNewCourses drops courses already announced. Lookup failures keep the course.
func (a *App) filterNewCourses(endpointID string, courses []course.Course) []course.Course {
	out := make([]course.Course, 0, len(courses))
	for _, c := range courses {
		seen, err := a.store.SeenCourse(storage.CourseKey(c))
		if err != nil {
			a.log.WarnObj("seen lookup failed", "storage_error", map[string]any{
				"endpoint_id": endpointID,
				"course":      c.Name,
				"error":       err.Error(),
			})
		}
		if !seen {
			out = append(out, c)
		}
	}
	return out
}

// Watch runs SyncCourses immediately and then on every tick until ctx is done.
func (a *App) Watch(ctx context.Context, endpointID string, interval time.Duration, onResult func(SyncResult, error)) error {
	if interval <= 0 {
		return fmt.Errorf("watch interval must be positive")
	}
	if _, err := a.endpoints.Lookup(endpointID, endpoints.KindCourses); err != nil {
		return err
	}

	runOnce := func() {
		res, err := a.SyncCourses(ctx, endpointID)
		if err != nil {
			a.log.ErrorObj("course sync failed", "error", err.Error())
		}
		if onResult != nil {
			onResult(res, err)
		}
	}

	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.log.InfoObj("watch loop exiting", "reason", ctx.Err().Error())
			return nil
		case <-ticker.C:
			runOnce()
		}
	}
}

// CachedCourses returns the last stored catalog for endpointID.
func (a *App) CachedCourses(endpointID string) (storage.Snapshot, bool, error) {
	ep, err := a.endpoints.Lookup(endpointID, endpoints.KindCourses)
	if err != nil {
		return storage.Snapshot{}, false, err
	}
	return a.store.LoadSnapshot(ep.ID)
}
