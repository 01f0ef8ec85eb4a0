// Package inflight tracks the transcription jobs a draining server waits for.
package inflight

import (
	"context"
	"net/http"
	"sync"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Job is a running transcription request.
type Job struct {
	ID      string
	Started time.Time
}

// Tracker records running jobs. The zero value is ready to use.
type Tracker struct {
	mu   sync.Mutex
	seq  uint64
	jobs map[uint64]Job
	// idle is closed while no job runs; nil means idle.
	idle chan struct{}
	now  func() time.Time
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Begin registers a job and returns the function that ends it. Calling the
// returned function more than once has no further effect.
func (t *Tracker) Begin(id string) func() {
	t.mu.Lock()
	if t.jobs == nil {
		t.jobs = map[uint64]Job{}
	}
	if len(t.jobs) == 0 {
		t.idle = make(chan struct{})
	}
	t.seq++
	key := t.seq
	t.jobs[key] = Job{ID: id, Started: t.clock()}
	t.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { t.end(key) }) }
}

func (t *Tracker) end(key uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[key]; !ok {
		return
	}
	delete(t.jobs, key)
	if len(t.jobs) == 0 && t.idle != nil {
		close(t.idle)
		t.idle = nil
	}
}

// Count returns the number of running jobs.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Oldest returns the longest-running job, if any.
func (t *Tracker) Oldest() (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var oldest Job
	found := false
	for _, j := range t.jobs {
		if !found || j.Started.Before(oldest.Started) {
			oldest, found = j, true
		}
	}
	return oldest, found
}

// Wait blocks until no job runs or ctx is done. It reports whether the
// tracker became idle.
func (t *Tracker) Wait(ctx context.Context) bool {
	t.mu.Lock()
	ch := t.idle
	t.mu.Unlock()
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// Middleware tracks each request as a job named after its request id.
func (t *Tracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chiMiddleware.GetReqID(r.Context())
			if id == "" {
				id = uuid.NewString()
			}
			done := t.Begin(id)
			defer done()
			next.ServeHTTP(w, r)
		})
	}
}
