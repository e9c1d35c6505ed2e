package transport

import (
	"sync"
	"time"
)

// TypingIdleTimeout is how long after the last keystroke signal the
// typing flag auto-clears.
const TypingIdleTimeout = 2 * time.Second

// TypingDebounce collapses a stream of keystroke signals into at most
// one isTyping:true broadcast per burst, with a guaranteed matching
// false, either explicit (send, blur) or after the idle timeout.
type TypingDebounce struct {
	mu      sync.Mutex
	active  bool
	timer   *time.Timer
	idle    time.Duration
	publish func(isTyping bool)
}

func NewTypingDebounce(idle time.Duration, publish func(bool)) *TypingDebounce {
	return &TypingDebounce{idle: idle, publish: publish}
}

// Observe processes one typing signal. A true while already typing only
// pushes the idle timer out; a transition publishes.
func (d *TypingDebounce) Observe(isTyping bool) {
	d.mu.Lock()

	if !isTyping {
		if !d.active {
			d.mu.Unlock()
			return
		}
		d.clearLocked()
		d.mu.Unlock()
		d.publish(false)
		return
	}

	wasActive := d.active
	d.active = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.idle, d.expire)
	d.mu.Unlock()

	if !wasActive {
		d.publish(true)
	}
}

func (d *TypingDebounce) expire() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.clearLocked()
	d.mu.Unlock()
	d.publish(false)
}

// Stop clears any pending state, publishing the closing false if a
// burst was still active. Safe to call more than once.
func (d *TypingDebounce) Stop() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.clearLocked()
	d.mu.Unlock()
	d.publish(false)
}

func (d *TypingDebounce) clearLocked() {
	d.active = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
