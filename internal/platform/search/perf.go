package search

import (
	"time"

	"github.com/rs/zerolog"
)

// Timings is a request-scoped timing record. It is created at request
// entry and passed explicitly through the call chain, never looked up
// from ambient or global storage.
type Timings struct {
	start time.Time
	last  time.Time
	marks []timingMark
}

type timingMark struct {
	name    string
	elapsed time.Duration
}

// NewTimings starts a timing record at now.
func NewTimings() *Timings {
	now := time.Now()
	return &Timings{start: now, last: now}
}

// Mark records the duration of the phase that just finished.
func (t *Timings) Mark(name string) {
	now := time.Now()
	t.marks = append(t.marks, timingMark{name: name, elapsed: now.Sub(t.last)})
	t.last = now
}

// Total is the elapsed time since the record started.
func (t *Timings) Total() time.Duration {
	return time.Since(t.start)
}

// MarshalZerologObject writes the per-phase durations and total into
// a log event.
func (t *Timings) MarshalZerologObject(e *zerolog.Event) {
	for _, m := range t.marks {
		e.Dur(m.name, m.elapsed)
	}
	e.Dur("total", t.Total())
}
