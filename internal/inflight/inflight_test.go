package inflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func TestTrackerWait(t *testing.T) {
	var tr Tracker
	if !tr.Wait(context.Background()) {
		t.Fatalf("zero value should be idle")
	}

	endA := tr.Begin("a")
	endB := tr.Begin("a")
	if n := tr.Count(); n != 2 {
		t.Fatalf("count = %d; want 2 (duplicate ids are separate jobs)", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatalf("wait returned true with %d running", tr.Count())
	}

	done := make(chan bool, 1)
	go func() { done <- tr.Wait(context.Background()) }()
	endA()
	endA()
	if n := tr.Count(); n != 1 {
		t.Fatalf("ending twice removed another job: count = %d", n)
	}
	endB()
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("wait reported false")
		}
	case <-time.After(time.Second):
		t.Fatalf("wait did not return after the last job ended")
	}

	// busy again after idle
	end := tr.Begin("c")
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if tr.Wait(ctx2) {
		t.Fatalf("tracker should be busy again")
	}
	end()
}

func TestTrackerOldest(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	tr := Tracker{now: func() time.Time { return now }}
	if _, ok := tr.Oldest(); ok {
		t.Fatalf("empty tracker has no oldest job")
	}
	endFirst := tr.Begin("first")
	now = base.Add(time.Minute)
	tr.Begin("second")
	j, ok := tr.Oldest()
	if !ok || j.ID != "first" || !j.Started.Equal(base) {
		t.Fatalf("oldest = %+v", j)
	}
	endFirst()
	if j, _ := tr.Oldest(); j.ID != "second" {
		t.Fatalf("oldest after end = %+v", j)
	}
}

func TestTrackerMiddleware(t *testing.T) {
	var tr Tracker
	var during int
	var id string
	h := chiMiddleware.RequestID(tr.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = tr.Count()
		j, _ := tr.Oldest()
		id = j.ID
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/asr", nil))
	if during != 1 {
		t.Fatalf("count during request = %d; want 1", during)
	}
	if id == "" {
		t.Fatalf("job should carry the request id")
	}
	if n := tr.Count(); n != 0 {
		t.Fatalf("count after request = %d; want 0", n)
	}
}
