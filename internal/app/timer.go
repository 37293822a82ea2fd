package app

import (
	"context"
	"sync"
	"time"
)

// Ticker is the clock source driving a Timer.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a fresh ticker each time a Timer starts.
type TickerFactory func() Ticker

type secondTicker struct {
	t *time.Ticker
}

// NewSecondTicker returns a ticker firing once per second.
func NewSecondTicker() Ticker {
	return &secondTicker{t: time.NewTicker(time.Second)}
}

func (t *secondTicker) C() <-chan time.Time { return t.t.C }
func (t *secondTicker) Stop()               { t.t.Stop() }

// Tickable is what a Timer drives. Done must be closed once ticking is pointless.
type Tickable interface {
	Tick() (int, bool)
	Done() <-chan struct{}
}

// Timer delivers one Tick per ticker fire to its target until the target is
// done, the context is cancelled or Stop is called.
type Timer struct {
	target    Tickable
	newTicker TickerFactory

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewTimer(target Tickable, newTicker TickerFactory) *Timer {
	if newTicker == nil {
		newTicker = NewSecondTicker
	}
	return &Timer{
		target:    target,
		newTicker: newTicker,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start launches the tick loop. Calling Start more than once, or after Stop,
// has no effect.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	select {
	case <-t.stop:
		return
	default:
	}
	t.started = true

	ticker := t.newTicker()
	go func() {
		defer close(t.stopped)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-t.target.Done():
				return
			case <-ticker.C():
				// A fire racing with Stop must not reach the target.
				select {
				case <-t.stop:
					return
				default:
				}
				t.target.Tick()
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit, so no tick is delivered after
// Stop returns. It must not be called from within the target's Tick.
func (t *Timer) Stop() {
	t.once.Do(func() { close(t.stop) })

	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		<-t.stopped
	}
}

// Stopped is closed when the tick loop has exited.
func (t *Timer) Stopped() <-chan struct{} { return t.stopped }
