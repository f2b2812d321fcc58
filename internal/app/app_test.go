package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-course-client/internal/config"
	"github.com/samvad-hq/samvad-course-client/pkg/course"
	"github.com/samvad-hq/samvad-course-client/pkg/dispatch"
	"github.com/samvad-hq/samvad-course-client/pkg/netclient"
)

type backend struct {
	srv       *httptest.Server
	png       []byte
	hookCalls atomic.Int32
	imgCalls  atomic.Int32
	mu        sync.Mutex
	uploads   []string
	onPage    func()
	pageHdr   http.Header
}

func pngBytes(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 9), G: uint8(y * 5), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{png: pngBytes(t, 64)}
	mux := http.NewServeMux()
	mux.HandleFunc("/courses", func(w http.ResponseWriter, _ *http.Request) {
		base := b.srv.URL
		fmt.Fprintf(w, `[
			{"name":"Networking","link":"%[1]s/page/net","imageUrl":"%[1]s/img/net.png","numberOfLessons":18,"numberOfTests":10},
			{"name":"Concurrency","link":"%[1]s/page/gcd","imageUrl":"","numberOfLessons":"7","numberOfTests":2}
		]`, base)
	})
	mux.HandleFunc("/page/gcd", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.pageHdr = r.Header.Clone()
		hook := b.onPage
		b.mu.Unlock()
		if hook != nil {
			hook()
		}
		io.WriteString(w, `<html><head><meta property="og:image" content="/img/gcd.png"></head></html>`)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, _ *http.Request) {
		b.imgCalls.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(b.png)
	})
	mux.HandleFunc("/hook", func(w http.ResponseWriter, _ *http.Request) {
		b.hookCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/posts", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		json.NewDecoder(r.Body).Decode(&body)
		body["id"] = 101
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.uploads = append(b.uploads, r.Header.Get("Authorization"))
		b.mu.Unlock()
		io.WriteString(w, `{"data":{"link":"https://i.imgur.com/x.png"},"success":true}`)
	})
	mux.HandleFunc("/raw", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "привет")
	})
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func newTestApp(t *testing.T, b *backend, withPublishers bool) *App {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TEST_UPLOAD_CLIENT_ID", "abc123")

	endpointsFile := filepath.Join(dir, "endpoints.yaml")
	endpointsYAML := fmt.Sprintf(`
endpoints:
  - {id: catalog, kind: courses, url: "%[1]s/courses"}
  - {id: create, kind: course, url: "%[1]s/posts"}
  - {id: logo, kind: image, url: "%[1]s/img/logo.png"}
  - {id: text, kind: raw, url: "%[1]s/raw"}
  - id: imgur
    kind: upload
    url: "%[1]s/upload"
    headers:
      Authorization: Client-ID ${TEST_UPLOAD_CLIENT_ID}
`, b.srv.URL)
	if err := os.WriteFile(endpointsFile, []byte(endpointsYAML), 0o644); err != nil {
		t.Fatalf("write endpoints: %v", err)
	}

	cfg := &config.Config{
		EndpointsFile:       endpointsFile,
		HTTPTimeout:         5 * time.Second,
		ImageConcurrency:    2,
		ThumbnailMaxSize:    16,
		EnrichMissingImages: true,
		StorageType:         "bbolt",
		BBoltPath:           filepath.Join(dir, "courses.db"),
	}
	if withPublishers {
		cfg.PublishersFile = filepath.Join(dir, "publishers.yaml")
		pubYAML := fmt.Sprintf("publishers:\n  - {id: hook, type: http, http: {url: \"%s/hook\"}}\n", b.srv.URL)
		if err := os.WriteFile(cfg.PublishersFile, []byte(pubYAML), 0o644); err != nil {
			t.Fatalf("write publishers: %v", err)
		}
	}

	a, err := NewApp(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSyncCoursesPublishesOnlyNewCourses(t *testing.T) {
	b := newBackend(t)
	a := newTestApp(t, b, true)
	ctx := context.Background()

	res, err := a.SyncCourses(ctx, "catalog")
	if err != nil {
		t.Fatalf("SyncCourses: %v", err)
	}
	if len(res.Courses) != 2 || res.New != 2 || res.Published != 2 {
		t.Fatalf("unexpected first sync %#v", res)
	}
	if want := b.srv.URL + "/img/gcd.png"; res.Courses[1].ImageURL != want {
		t.Fatalf("missing image not enriched: %q", res.Courses[1].ImageURL)
	}
	if res.Courses[1].NumberOfLessons != 7 {
		t.Fatalf("numeric string not decoded: %#v", res.Courses[1])
	}
	b.mu.Lock()
	accept := b.pageHdr.Get("Accept")
	b.mu.Unlock()
	if accept != pageAccept {
		t.Fatalf("page fetched with Accept %q", accept)
	}

	res, err = a.SyncCourses(ctx, "catalog")
	if err != nil {
		t.Fatalf("second SyncCourses: %v", err)
	}
	if res.New != 0 || res.Published != 0 {
		t.Fatalf("courses announced twice: %#v", res)
	}
	if got := b.hookCalls.Load(); got != 2 {
		t.Fatalf("expected 2 hook deliveries, got %d", got)
	}

	snap, ok, err := a.CachedCourses("catalog")
	if err != nil || !ok {
		t.Fatalf("CachedCourses ok=%v err=%v", ok, err)
	}
	if len(snap.Courses) != 2 || snap.Courses[0].Name != "Networking" {
		t.Fatalf("unexpected snapshot %#v", snap)
	}
}

func TestSyncCoursesCancelledKeepsPreviousSnapshot(t *testing.T) {
	b := newBackend(t)
	a := newTestApp(t, b, false)

	if _, err := a.SyncCourses(context.Background(), "catalog"); err != nil {
		t.Fatalf("first SyncCourses: %v", err)
	}
	before, ok, err := a.CachedCourses("catalog")
	if err != nil || !ok {
		t.Fatalf("CachedCourses ok=%v err=%v", ok, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.mu.Lock()
	b.onPage = cancel
	b.mu.Unlock()

	if _, err := a.SyncCourses(ctx, "catalog"); err == nil {
		t.Fatalf("expected cancelled sync to fail")
	}

	after, ok, err := a.CachedCourses("catalog")
	if err != nil || !ok {
		t.Fatalf("CachedCourses after cancel ok=%v err=%v", ok, err)
	}
	if len(after.Courses) != len(before.Courses) || !after.SavedAt.Equal(before.SavedAt) {
		t.Fatalf("snapshot replaced by cancelled sync: before=%#v after=%#v", before, after)
	}
	if after.Courses[1].ImageURL != before.Courses[1].ImageURL {
		t.Fatalf("enriched image lost: %q", after.Courses[1].ImageURL)
	}
}

func TestSyncCoursesRejectsWrongEndpointKind(t *testing.T) {
	a := newTestApp(t, newBackend(t), false)
	if _, err := a.SyncCourses(context.Background(), "create"); err == nil {
		t.Fatalf("expected kind mismatch error")
	}
	if _, _, err := a.CachedCourses("missing"); err == nil {
		t.Fatalf("expected unknown endpoint error")
	}
}

func TestDownloadImagesWritesFilesAndThumbnails(t *testing.T) {
	b := newBackend(t)
	a := newTestApp(t, b, false)
	out := t.TempDir()

	courses := []course.Course{
		{Name: "Networking", Link: "l1", ImageURL: b.srv.URL + "/img/1.png"},
		{Name: "Concurrency", Link: "l2", ImageURL: b.srv.URL + "/img/2.png"},
		{Name: "No art", Link: "l3"},
	}

	var mu sync.Mutex
	final := map[string]float64{}
	files, err := a.DownloadImages(context.Background(), courses, out, func(c course.Course, ev netclient.ProgressEvent) {
		mu.Lock()
		final[c.Name] = ev.FractionCompleted
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("DownloadImages: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 downloads, got %d", len(files))
	}
	for _, f := range files {
		if !strings.HasSuffix(f.Path, ".png") || f.Image.Width != 64 {
			t.Fatalf("unexpected file %#v", f)
		}
		data, err := os.ReadFile(f.Path)
		if err != nil || !bytes.Equal(data, b.png) {
			t.Fatalf("image not written: %v", err)
		}
		if _, err := os.Stat(f.Thumbnail); err != nil {
			t.Fatalf("thumbnail missing: %v", err)
		}
		if final[f.Course.Name] != 1 {
			t.Fatalf("final progress for %s = %v", f.Course.Name, final[f.Course.Name])
		}
	}
}

func TestDownloadImagesSkipsDuplicateCourses(t *testing.T) {
	b := newBackend(t)
	a := newTestApp(t, b, false)

	courses := []course.Course{
		{Name: "Networking", Link: "l1", ImageURL: b.srv.URL + "/img/1.png", NumberOfLessons: 18},
		{Name: "Networking", Link: "l1", ImageURL: b.srv.URL + "/img/1b.png", NumberOfLessons: 20},
		{Name: " Networking ", Link: "l1", ImageURL: b.srv.URL + "/img/1c.png"},
	}
	files, err := a.DownloadImages(context.Background(), courses, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("DownloadImages: %v", err)
	}
	if len(files) != 1 || files[0].Course.NumberOfLessons != 18 {
		t.Fatalf("expected only the first duplicate, got %#v", files)
	}
	if got := b.imgCalls.Load(); got != 1 {
		t.Fatalf("expected 1 image request, got %d", got)
	}
	data, err := os.ReadFile(files[0].Path)
	if err != nil || !bytes.Equal(data, b.png) {
		t.Fatalf("image not written: %v", err)
	}
}

func TestDownloadImagesReportsFailuresPerCourse(t *testing.T) {
	b := newBackend(t)
	a := newTestApp(t, b, false)

	files, err := a.DownloadImages(context.Background(), []course.Course{
		{Name: "ok", Link: "a", ImageURL: b.srv.URL + "/img/ok.png"},
		{Name: "bad", Link: "b", ImageURL: b.srv.URL + "/raw"},
	}, t.TempDir(), nil)
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("expected error naming the failed course, got %v", err)
	}
	if files[0].Err != nil || files[1].Err == nil {
		t.Fatalf("unexpected per-course errors %v / %v", files[0].Err, files[1].Err)
	}
}

func TestSubmitUploadRawAndImage(t *testing.T) {
	b := newBackend(t)
	a := newTestApp(t, b, false)
	ctx := context.Background()

	got, err := a.Submit(ctx, "create", "", course.Encode(course.Course{
		Name: "Swift", Link: "https://swiftbook.ru", ImageURL: "https://i/s.png", NumberOfLessons: 3, NumberOfTests: 1,
	}))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Swift" {
		t.Fatalf("unexpected submit result %#v", got)
	}
	if _, err := a.Submit(ctx, "create", "DELETE", nil); err == nil {
		t.Fatalf("expected DELETE to be rejected")
	}

	path := filepath.Join(t.TempDir(), "up.png")
	if err := os.WriteFile(path, b.png, 0o644); err != nil {
		t.Fatalf("write upload file: %v", err)
	}
	reply, err := a.Upload(ctx, "imgur", path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if m, ok := reply.(map[string]any); !ok || m["success"] != true {
		t.Fatalf("unexpected upload reply %#v", reply)
	}
	if len(b.uploads) != 1 || b.uploads[0] != "Client-ID abc123" {
		t.Fatalf("authorization header = %v", b.uploads)
	}

	text, err := a.Raw(ctx, "text", true)
	if err != nil || string(text) != "привет" {
		t.Fatalf("Raw text = %q, %v", text, err)
	}
	if _, err := a.Raw(ctx, "create", false); err == nil {
		t.Fatalf("raw download of a POST endpoint should fail")
	}

	out := filepath.Join(t.TempDir(), "logo", "logo.png")
	img, err := a.FetchImage(ctx, "logo", out, nil)
	if err != nil {
		t.Fatalf("FetchImage: %v", err)
	}
	if img.Format != "png" {
		t.Fatalf("format = %s", img.Format)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("image not saved: %v", err)
	}
}

func TestResultsDeliveredOnQueue(t *testing.T) {
	a := newTestApp(t, newBackend(t), false)

	got := make(chan []byte, 1)
	call := dispatch.Go(context.Background(), a.Queue(), func(ctx context.Context) ([]byte, error) {
		return a.Raw(ctx, "text", false)
	}, func(out dispatch.Outcome[[]byte]) {
		got <- out.Value
	})
	<-call.Done()
	if string(<-got) != "привет" {
		t.Fatalf("unexpected raw body")
	}
}

func TestWatchRunsUntilCancelled(t *testing.T) {
	a := newTestApp(t, newBackend(t), false)
	ctx, cancel := context.WithCancel(context.Background())

	runs := 0
	err := a.Watch(ctx, "catalog", time.Hour, func(res SyncResult, err error) {
		runs++
		if err != nil {
			t.Errorf("sync: %v", err)
		}
		cancel()
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if runs != 1 {
		t.Fatalf("expected the immediate run only, got %d", runs)
	}
	if err := a.Watch(context.Background(), "catalog", 0, nil); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestNewAppRequiresConfig(t *testing.T) {
	if _, err := NewApp(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := NewApp(context.Background(), &config.Config{EndpointsFile: "missing.yaml"}, nil); err == nil {
		t.Fatalf("expected error for missing endpoints file")
	}
}
