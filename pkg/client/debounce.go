package client

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// debouncer limits how often streamed content becomes observable. The first
// Set after a quiet period schedules a single flush one interval later; values
// set meanwhile replace the pending one. All methods are called with the
// client lock held, including Fire, which the timer callback reaches through
// onTimer after taking the lock.
type debouncer struct {
	clock    clockwork.Clock
	interval time.Duration
	apply    func(string)
	onTimer  func(gen uint64)

	pending string
	dirty   bool
	timer   clockwork.Timer
	gen     uint64
}

func newDebouncer(clk clockwork.Clock, interval time.Duration, apply func(string), onTimer func(gen uint64)) *debouncer {
	return &debouncer{
		clock:    clk,
		interval: interval,
		apply:    apply,
		onTimer:  onTimer,
	}
}

func (d *debouncer) Set(value string) {
	if d.interval <= 0 {
		d.apply(value)
		return
	}

	d.pending = value
	d.dirty = true
	if d.timer != nil {
		return
	}

	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.interval, func() { d.onTimer(gen) })
}

// Fire applies the pending value for the timer generation gen. Stale
// generations are ignored.
func (d *debouncer) Fire(gen uint64) {
	if gen != d.gen || d.timer == nil {
		return
	}
	d.timer = nil
	d.applyPending()
}

// Flush applies the pending value now and cancels the scheduled flush.
func (d *debouncer) Flush() {
	d.cancelTimer()
	d.applyPending()
}

// Stop drops the pending value.
func (d *debouncer) Stop() {
	d.cancelTimer()
	d.pending = ""
	d.dirty = false
}

func (d *debouncer) cancelTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.gen++
	}
}

func (d *debouncer) applyPending() {
	if !d.dirty {
		return
	}
	d.dirty = false
	d.apply(d.pending)
}
