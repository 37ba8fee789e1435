// Package mode holds the operating-mode state machine that translates
// detector findings and scan results into the small set of modes a
// presentation layer consumes. The machine never performs I/O; callers
// feed it findings and clock ticks, and it reports transitions through
// a callback.
package mode

import (
	"sync"
	"time"

	"driftwatch/internal/threat"
)

// State is the engine's operating mode.
type State int

const (
	Idle State = iota
	Scanning
	Curious
	Elevated
	Alarm
	Resolved
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Curious:
		return "curious"
	case Elevated:
		return "elevated"
	case Alarm:
		return "alarm"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Config tunes the machine's timers.
type Config struct {
	// GracePeriod is both the pairing window for escalating a second
	// finding and the auto-return delay out of Curious.
	GracePeriod time.Duration

	// Cooldown is the quiet period required before Elevated steps down
	// and before Alarm may resolve.
	Cooldown time.Duration

	// SettleDelay is how long Resolved lingers before returning to
	// Idle.
	SettleDelay time.Duration
}

// escalationCount is how many findings within the grace window push
// Elevated into Alarm.
const escalationCount = 3

// Machine is the mode state machine. All methods are safe for
// concurrent use; the transition callback runs outside the lock.
type Machine struct {
	cfg      Config
	now      func() time.Time
	onChange func(from, to State)

	mu            sync.Mutex
	state         State
	enteredAt     time.Time
	lastFindingAt time.Time
	recent        []time.Time
	baselineClean bool
}

// New creates a Machine in Idle. nowFn overrides the clock for tests;
// nil means time.Now. onChange may be nil; it must not block.
func New(cfg Config, nowFn func() time.Time, onChange func(from, to State)) *Machine {
	if nowFn == nil {
		nowFn = time.Now
	}
	m := &Machine{cfg: cfg, now: nowFn, onChange: onChange, baselineClean: true}
	m.enteredAt = nowFn()
	return m
}

// State returns the current mode.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartScan marks the beginning of a reconciliation pass.
func (m *Machine) StartScan() {
	m.transitionIf(func() (State, bool) {
		if m.state == Idle {
			return Scanning, true
		}
		return 0, false
	})
}

// ScanComplete marks the end of a reconciliation pass. A clean pass
// from Scanning drops straight back to Idle.
func (m *Machine) ScanComplete(clean bool) {
	m.transitionIf(func() (State, bool) {
		m.baselineClean = clean
		if m.state == Scanning && clean {
			return Idle, true
		}
		return 0, false
	})
}

// ReportFinding feeds one detector finding into the machine.
func (m *Machine) ReportFinding(severity threat.Severity) {
	m.transitionIf(func() (State, bool) {
		now := m.now()
		m.lastFindingAt = now
		m.baselineClean = false
		m.recent = append(m.recent, now)
		m.pruneRecent(now)

		switch {
		case severity >= threat.SeverityCritical:
			if m.state != Alarm {
				return Alarm, true
			}
		case severity >= threat.SeverityHigh:
			// Resolved sorts above Elevated but is a calm state; a high
			// finding re-escalates it like any other.
			if m.state < Elevated || m.state == Resolved {
				return Elevated, true
			}
			if m.state == Elevated && len(m.recent) >= escalationCount {
				return Alarm, true
			}
		default:
			switch m.state {
			case Idle, Scanning, Resolved:
				return Curious, true
			case Curious:
				if len(m.recent) >= 2 {
					return Elevated, true
				}
			case Elevated:
				if len(m.recent) >= escalationCount {
					return Alarm, true
				}
			}
		}
		return 0, false
	})
}

// Acknowledge is the operator's explicit sign-off on an Alarm.
func (m *Machine) Acknowledge() {
	m.transitionIf(func() (State, bool) {
		if m.state == Alarm {
			return Resolved, true
		}
		return 0, false
	})
}

// BaselineVerified records the outcome of a baseline re-verification,
// which gates Alarm's time-based downgrade.
func (m *Machine) BaselineVerified(clean bool) {
	m.mu.Lock()
	m.baselineClean = clean
	m.mu.Unlock()
}

// Tick advances the auto-return timers. Call it periodically; the
// machine steps down at most one state per call.
func (m *Machine) Tick() {
	m.transitionIf(func() (State, bool) {
		now := m.now()
		m.pruneRecent(now)
		quiet := now.Sub(m.lastFindingAt)
		inState := now.Sub(m.enteredAt)

		switch m.state {
		case Curious:
			if quiet >= m.cfg.GracePeriod {
				return Idle, true
			}
		case Elevated:
			if quiet >= m.cfg.Cooldown {
				return Curious, true
			}
		case Alarm:
			// Alarm is the one state that demands the condition be
			// actually clear, not just quiet.
			if quiet >= m.cfg.Cooldown && m.baselineClean {
				return Resolved, true
			}
		case Resolved:
			if inState >= m.cfg.SettleDelay {
				return Idle, true
			}
		}
		return 0, false
	})
}

// pruneRecent drops finding timestamps older than the grace window.
func (m *Machine) pruneRecent(now time.Time) {
	cutoff := now.Add(-m.cfg.GracePeriod)
	kept := m.recent[:0]
	for _, t := range m.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.recent = kept
}

// transitionIf runs decide under the lock and fires the change
// callback outside it.
func (m *Machine) transitionIf(decide func() (State, bool)) {
	m.mu.Lock()
	from := m.state
	to, ok := decide()
	if ok && to != from {
		m.state = to
		m.enteredAt = m.now()
		if to == Idle {
			m.recent = m.recent[:0]
		}
	}
	m.mu.Unlock()

	if ok && to != from && m.onChange != nil {
		m.onChange(from, to)
	}
}
