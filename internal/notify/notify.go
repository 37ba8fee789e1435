// Package notify is the outbound event surface: presentation layers
// subscribe to mode changes, findings, and reconcile reports, and the
// engine publishes to them without ever blocking on a slow consumer.
package notify

import (
	"sync"

	"driftwatch/internal/mode"
	"driftwatch/internal/reconcile"
	"driftwatch/internal/threat"
)

// Subscriber receives engine notifications. Implementations may be
// slow; delivery is serialized per subscriber and decoupled from the
// publisher.
type Subscriber interface {
	OnModeChange(from, to mode.State)
	OnFinding(f threat.Finding)
	OnReconcileReport(r reconcile.Report)
}

// queueDepth bounds each subscriber's pending notifications. When a
// subscriber falls this far behind, its oldest notifications are
// dropped rather than stalling the engine.
const queueDepth = 64

type subscription struct {
	sub   Subscriber
	queue chan func()
	done  chan struct{}
}

// Broadcaster fans engine notifications out to subscribers.
type Broadcaster struct {
	mu   sync.Mutex
	subs []*subscription
	wg   sync.WaitGroup
	shut bool
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe registers sub and starts its delivery worker.
func (b *Broadcaster) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shut {
		return
	}
	s := &subscription{
		sub:   sub,
		queue: make(chan func(), queueDepth),
		done:  make(chan struct{}),
	}
	b.subs = append(b.subs, s)
	b.wg.Add(1)
	go b.deliver(s)
}

func (b *Broadcaster) deliver(s *subscription) {
	defer b.wg.Done()
	for {
		select {
		case fn := <-s.queue:
			fn()
		case <-s.done:
			// Drain what is already queued, then exit.
			for {
				select {
				case fn := <-s.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}

// publish enqueues fn for every subscriber, dropping the oldest entry
// of a full queue.
func (b *Broadcaster) publish(build func(Subscriber) func()) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		fn := build(s.sub)
		for {
			select {
			case s.queue <- fn:
			default:
				select {
				case <-s.queue:
				default:
				}
				continue
			}
			break
		}
	}
}

// ModeChanged publishes a mode transition.
func (b *Broadcaster) ModeChanged(from, to mode.State) {
	b.publish(func(s Subscriber) func() {
		return func() { s.OnModeChange(from, to) }
	})
}

// Finding publishes one detector finding.
func (b *Broadcaster) Finding(f threat.Finding) {
	b.publish(func(s Subscriber) func() {
		return func() { s.OnFinding(f) }
	})
}

// ReconcileReport publishes a completed cycle's report.
func (b *Broadcaster) ReconcileReport(r reconcile.Report) {
	b.publish(func(s Subscriber) func() {
		return func() { s.OnReconcileReport(r) }
	})
}

// Close stops delivery after flushing queued notifications.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.shut {
		b.mu.Unlock()
		return
	}
	b.shut = true
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		close(s.done)
	}
	b.wg.Wait()
}
