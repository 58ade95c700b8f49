package coalesce

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	ch     chan struct{}
}

func newRecorder() *recorder { return &recorder{ch: make(chan struct{}, 64)} }

func (r *recorder) emit(control string, value any) {
	r.mu.Lock()
	r.events = append(r.events, control+"="+value.(string))
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("waited for %d emissions, got %d", n, i)
		}
	}
}

func TestDebounce_BurstEmitsOnce(t *testing.T) {
	rec := newRecorder()
	c := New(rec.emit)

	for _, v := range []string{"r", "ro", "rob", "robo", "robot"} {
		c.Debounce("search", 50*time.Millisecond, v)
	}
	rec.wait(t, 1)
	time.Sleep(100 * time.Millisecond)

	if got := rec.got(); !reflect.DeepEqual(got, []string{"search=robot"}) {
		t.Errorf("emissions = %v", got)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestDebounce_ControlsAreIndependent(t *testing.T) {
	rec := newRecorder()
	c := New(rec.emit)

	c.Debounce("search", 20*time.Millisecond, "a")
	c.Debounce("pledged", 40*time.Millisecond, "0-500")
	rec.wait(t, 2)

	if got := rec.got(); !reflect.DeepEqual(got, []string{"search=a", "pledged=0-500"}) {
		t.Errorf("emissions = %v", got)
	}
}

func TestImmediate_CancelsPendingOnSameControl(t *testing.T) {
	rec := newRecorder()
	c := New(rec.emit)

	c.Debounce("sort", time.Hour, "newest")
	c.Immediate("sort", "oldest")

	if got := rec.got(); !reflect.DeepEqual(got, []string{"sort=oldest"}) {
		t.Errorf("emissions = %v", got)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFlush_EmitsPendingInOrder(t *testing.T) {
	rec := newRecorder()
	c := New(rec.emit)

	c.Debounce("goal", time.Hour, "1-2")
	c.Debounce("search", time.Hour, "x")
	c.Debounce("goal", time.Hour, "3-4")
	c.Flush()

	if got := rec.got(); !reflect.DeepEqual(got, []string{"search=x", "goal=3-4"}) {
		t.Errorf("emissions = %v", got)
	}
}

func TestStop_DropsPending(t *testing.T) {
	rec := newRecorder()
	c := New(rec.emit)

	c.Debounce("search", 10*time.Millisecond, "late")
	c.Stop()
	c.Immediate("page", "2")
	time.Sleep(50 * time.Millisecond)

	if got := rec.got(); len(got) != 0 {
		t.Errorf("emissions after Stop = %v", got)
	}
}
