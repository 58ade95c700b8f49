// Package coalesce turns bursts of control input into at most one emission
// per logical action.
//
// Each control has at most one pending timer. A newer Debounce on the same
// control cancels the pending one, Immediate cancels it and emits at once,
// and Flush emits everything pending synchronously. Emissions never overlap.
package coalesce

import (
	"sort"
	"sync"
	"time"
)

// EmitFunc receives the control name and the last value given for it.
type EmitFunc func(control string, value any)

type pending struct {
	seq   uint64
	timer *time.Timer
	value any
}

// Coalescer schedules emissions per control.
type Coalescer struct {
	emit EmitFunc

	mu      sync.Mutex
	seq     uint64
	pending map[string]*pending
	stopped bool

	emitMu sync.Mutex
}

// New returns a coalescer calling emit for every emission.
func New(emit EmitFunc) *Coalescer {
	return &Coalescer{emit: emit, pending: make(map[string]*pending)}
}

// Debounce schedules value for control after delay, replacing any pending
// value of the same control.
func (c *Coalescer) Debounce(control string, delay time.Duration, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.cancelLocked(control)

	c.seq++
	seq := c.seq
	p := &pending{seq: seq, value: value}
	p.timer = time.AfterFunc(delay, func() { c.fire(control, seq) })
	c.pending[control] = p
}

// Immediate emits value for control now, dropping anything pending on it.
func (c *Coalescer) Immediate(control string, value any) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.cancelLocked(control)
	c.mu.Unlock()

	c.deliver(control, value)
}

// Flush emits every pending value synchronously, oldest first.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	type item struct {
		control string
		p       *pending
	}
	items := make([]item, 0, len(c.pending))
	for control, p := range c.pending {
		p.timer.Stop()
		items = append(items, item{control, p})
	}
	c.pending = make(map[string]*pending)
	c.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].p.seq < items[j].p.seq })
	for _, it := range items {
		c.deliver(it.control, it.p.value)
	}
}

// Pending returns how many controls have a scheduled emission.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop drops all pending emissions. Later calls are ignored.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for control := range c.pending {
		c.cancelLocked(control)
	}
	c.stopped = true
}

func (c *Coalescer) cancelLocked(control string) {
	if p, ok := c.pending[control]; ok {
		p.timer.Stop()
		delete(c.pending, control)
	}
}

// fire runs on the timer goroutine. A stale seq means the value was replaced
// or flushed after the timer had already started.
func (c *Coalescer) fire(control string, seq uint64) {
	c.mu.Lock()
	p, ok := c.pending[control]
	if !ok || p.seq != seq {
		c.mu.Unlock()
		return
	}
	delete(c.pending, control)
	c.mu.Unlock()

	c.deliver(control, p.value)
}

func (c *Coalescer) deliver(control string, value any) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.emit(control, value)
}
