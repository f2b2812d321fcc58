package storage

import (
	"crypto/sha1" //nolint:gosec // non-cryptographic id generation
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-course-client/pkg/course"
)

// Package storage keeps a local record of courses already announced downstream and the
// last fetched catalog per endpoint.

// Store tracks announced course keys and catalog snapshots.
type Store interface {
	Close() error
	SeenCourse(key string) (bool, error)
	MarkCourse(key string) error
	SaveSnapshot(endpointID string, courses []course.Course) error
	LoadSnapshot(endpointID string) (Snapshot, bool, error)
}

// Snapshot is the last successful fetch of an endpoint.
type Snapshot struct {
	EndpointID string          `json:"endpoint_id"`
	SavedAt    time.Time       `json:"saved_at"`
	Courses    []course.Course `json:"courses"`
}

// Options controls retention characteristics for concrete store implementations.
type Options struct {
	CourseTTL       time.Duration
	CleanupInterval time.Duration
}

const (
	defaultCourseTTL       = 30 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

// CourseKey identifies a course across fetches by its link and name.
func CourseKey(c course.Course) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(c.Link) + "|" + strings.TrimSpace(c.Name)))
	return hex.EncodeToString(sum[:])
}

func normalizeOptions(opts Options) Options {
	if opts.CourseTTL <= 0 {
		opts.CourseTTL = defaultCourseTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

type noopStore struct{}

func (noopStore) Close() error                                { return nil }
func (noopStore) SeenCourse(string) (bool, error)             { return false, nil }
func (noopStore) MarkCourse(string) error                     { return nil }
func (noopStore) SaveSnapshot(string, []course.Course) error  { return nil }
func (noopStore) LoadSnapshot(string) (Snapshot, bool, error) { return Snapshot{}, false, nil }
