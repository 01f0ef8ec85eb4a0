package serverstate

import "testing"

func TestMemoryState(t *testing.T) {
	st := New(nil)

	if got := st.Status(); got != StatusNotReady {
		t.Fatalf("initial state = %q; want %q", got, StatusNotReady)
	}
	if st.IsDraining() {
		t.Fatalf("initial draining = true; want false")
	}

	st.SetStatus(StatusReady)
	if got := st.Status(); got != StatusReady {
		t.Fatalf("state after SetStatus = %q; want %q", got, StatusReady)
	}

	st.StartDrain()
	if got := st.Status(); got != StatusDraining {
		t.Fatalf("state after StartDrain = %q; want %q", got, StatusDraining)
	}
	if !st.IsDraining() {
		t.Fatalf("IsDraining = false; want true")
	}

	// Status updates after a drain keep the draining flag.
	st.SetStatus("shutting_down")
	if snap := st.Snapshot(); !snap.Draining || snap.Status != "shutting_down" {
		t.Fatalf("snapshot = %#v", snap)
	}
}

func TestMarkReadyClearsDrain(t *testing.T) {
	store := NewMemoryStore()
	New(store).StartDrain()

	// a restarted process sharing the store
	s := New(store)
	if !s.IsDraining() {
		t.Fatalf("drain should be visible through the shared store")
	}
	s.MarkReady()
	if s.IsDraining() || s.Status() != StatusReady {
		t.Fatalf("unexpected snapshot %+v", s.Snapshot())
	}
}
