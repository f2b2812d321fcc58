package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samvad-hq/samvad-course-client/internal/app"
	"github.com/samvad-hq/samvad-course-client/internal/config"
	"github.com/samvad-hq/samvad-course-client/internal/logger"
	"github.com/samvad-hq/samvad-course-client/pkg/course"
	"github.com/samvad-hq/samvad-course-client/pkg/dispatch"
	"github.com/samvad-hq/samvad-course-client/pkg/imaging"
	"github.com/samvad-hq/samvad-course-client/pkg/netclient"
)

// demoCourse is submitted when no course fields are given on the command line.
var demoCourse = map[string]any{
	course.KeyName:            "Network Requests with Alamofire",
	course.KeyLink:            "https://swiftbook.ru/contents/our-first-applications/",
	course.KeyImageURL:        "https://swiftbook.ru/wp-content/uploads/sites/2/2018/08/notifications-course-with-background.png",
	course.KeyNumberOfLessons: "18",
	course.KeyNumberOfTests:   "10",
}

const usage = `coursectl talks to the course backend configured in endpoints.yaml.

Usage:
  coursectl courses -endpoint <id> [-cached] [-watch 10m] [-images dir]
  coursectl submit  -endpoint <id> [-method PUT] [-name ... -link ... -image ... -lessons N -tests N]
  coursectl image   -endpoint <id> [-out file]
  coursectl images  -endpoint <id> -out dir
  coursectl upload  -endpoint <id> -file path
  coursectl raw     -endpoint <id> [-text]
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "coursectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		fmt.Fprint(os.Stderr, usage)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sugar, err := logger.Init(cfg, os.Stderr)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, cfg, logger.New(sugar))
	if err != nil {
		logger.ErrorObj("failed to initialize app", "error", err.Error())
		return err
	}
	defer a.Close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "courses":
		return runCourses(ctx, a, rest)
	case "submit":
		return runSubmit(ctx, a, rest)
	case "image":
		return runImage(ctx, a, rest)
	case "images":
		return runImages(ctx, a, rest)
	case "upload":
		return runUpload(ctx, a, rest)
	case "raw":
		return runRaw(ctx, a, rest)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runCourses(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("courses", flag.ContinueOnError)
	endpoint := fs.String("endpoint", "catalog", "courses endpoint id")
	cached := fs.Bool("cached", false, "print the last stored catalog without fetching")
	watch := fs.Duration("watch", 0, "refetch on this interval until interrupted")
	images := fs.String("images", "", "also download course images into this directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *cached {
		snap, ok, err := a.CachedCourses(*endpoint)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no stored catalog for %q", *endpoint)
		}
		return printJSON(snap)
	}

	if *watch > 0 {
		return a.Watch(ctx, *endpoint, *watch, func(res app.SyncResult, err error) {
			a.Queue().Dispatch(func() {
				if err != nil {
					fmt.Fprintf(os.Stderr, "sync failed: %v\n", err)
				}
				fmt.Fprintf(os.Stderr, "%s: %d courses, %d new\n", time.Now().Format(time.TimeOnly), len(res.Courses), res.New)
			})
		})
	}

	var courses []course.Course
	err := await(ctx, a, func(ctx context.Context) (app.SyncResult, error) {
		return a.SyncCourses(ctx, *endpoint)
	}, func(res app.SyncResult) error {
		courses = res.Courses
		return printJSON(res.Courses)
	})
	if err != nil || *images == "" {
		return err
	}
	return downloadImages(ctx, a, courses, *images)
}

func runSubmit(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	endpoint := fs.String("endpoint", "create", "course endpoint id")
	method := fs.String("method", "", "POST or PUT (defaults to the endpoint's method)")
	name := fs.String("name", "", "course name")
	link := fs.String("link", "", "course link")
	image := fs.String("image", "", "course image URL")
	lessons := fs.Int("lessons", 0, "number of lessons")
	tests := fs.Int("tests", 0, "number of tests")
	if err := fs.Parse(args); err != nil {
		return err
	}

	payload := demoCourse
	if fs.NFlag() > countSet(fs, "endpoint", "method") {
		payload = course.Encode(course.Course{
			Name:            *name,
			Link:            *link,
			ImageURL:        *image,
			NumberOfLessons: *lessons,
			NumberOfTests:   *tests,
		})
	}

	return await(ctx, a, func(ctx context.Context) ([]course.Course, error) {
		return a.Submit(ctx, *endpoint, *method, payload)
	}, func(courses []course.Course) error {
		return printJSON(courses)
	})
}

func runImage(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("image", flag.ContinueOnError)
	endpoint := fs.String("endpoint", "logo", "image endpoint id")
	out := fs.String("out", "", "write the image to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return await(ctx, a, func(ctx context.Context) (imaging.Image, error) {
		return a.FetchImage(ctx, *endpoint, *out, progressPrinter(a, *endpoint))
	}, func(img imaging.Image) error {
		fmt.Fprintln(os.Stderr)
		return printJSON(map[string]any{
			"format": img.Format,
			"width":  img.Width,
			"height": img.Height,
			"bytes":  len(img.Data),
			"path":   *out,
		})
	})
}

func runImages(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("images", flag.ContinueOnError)
	endpoint := fs.String("endpoint", "catalog", "courses endpoint id")
	out := fs.String("out", "", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("images: -out is required")
	}

	var courses []course.Course
	err := await(ctx, a, func(ctx context.Context) (app.SyncResult, error) {
		return a.SyncCourses(ctx, *endpoint)
	}, func(res app.SyncResult) error {
		courses = res.Courses
		return nil
	})
	if err != nil {
		return err
	}
	return downloadImages(ctx, a, courses, *out)
}

func downloadImages(ctx context.Context, a *app.App, courses []course.Course, dir string) error {
	return await(ctx, a, func(ctx context.Context) ([]app.ImageFile, error) {
		return a.DownloadImages(ctx, courses, dir, func(c course.Course, ev netclient.ProgressEvent) {
			a.Queue().Dispatch(func() {
				fmt.Fprintf(os.Stderr, "%s: %s\n", c.Name, ev.Description)
			})
		})
	}, func(files []app.ImageFile) error {
		for _, f := range files {
			fmt.Fprintf(os.Stdout, "%s\t%s\n", f.Course.Name, f.Path)
		}
		return nil
	})
}

func runUpload(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	endpoint := fs.String("endpoint", "imgur", "upload endpoint id")
	file := fs.String("file", "", "image file to upload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("upload: -file is required")
	}

	return await(ctx, a, func(ctx context.Context) (any, error) {
		return a.Upload(ctx, *endpoint, *file)
	}, func(reply any) error {
		return printJSON(reply)
	})
}

func runRaw(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("raw", flag.ContinueOnError)
	endpoint := fs.String("endpoint", "", "GET endpoint id")
	text := fs.Bool("text", false, "require a UTF-8 body")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return await(ctx, a, func(ctx context.Context) ([]byte, error) {
		return a.Raw(ctx, *endpoint, *text)
	}, func(body []byte) error {
		_, err := os.Stdout.Write(body)
		return err
	})
}

// await runs op off the queue and hands its value to show on the queue, returning once
// show has finished.
func await[T any](ctx context.Context, a *app.App, op func(context.Context) (T, error), show func(T) error) error {
	var result error
	call := dispatch.Go(ctx, a.Queue(), op, func(out dispatch.Outcome[T]) {
		if out.Err != nil {
			result = out.Err
			return
		}
		result = show(out.Value)
	})
	<-call.Done()
	return result
}

func progressPrinter(a *app.App, label string) func(netclient.ProgressEvent) {
	return func(ev netclient.ProgressEvent) {
		a.Queue().Dispatch(func() {
			fmt.Fprintf(os.Stderr, "\r%s: %s", label, ev.Description)
		})
	}
}

func countSet(fs *flag.FlagSet, names ...string) int {
	n := 0
	fs.Visit(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				n++
			}
		}
	})
	return n
}

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
