package publishers

import (
	"time"

	"github.com/samvad-hq/samvad-course-client/pkg/course"
)

// Event represents the payload published downstream when a course first appears.
type Event struct {
	Source      string        `json:"source"`
	Course      course.Course `json:"course"`
	CollectedAt time.Time     `json:"collected_at"`
}

// NewEvent constructs an Event for a course fetched from the given endpoint.
func NewEvent(source string, c course.Course) Event {
	return Event{
		Source:      source,
		Course:      c,
		CollectedAt: time.Now().UTC(),
	}
}
