// Package watcher observes filesystem change events under the
// configured roots. Events are debounced per path so editor write
// bursts collapse into a single observation, and a polling scanner
// takes over for any root the native notification backend cannot
// cover.
package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies an observed change.
type Kind int

const (
	KindCreated Kind = iota
	KindModified
	KindDeleted
	KindMoved
)

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindDeleted:
		return "deleted"
	case KindMoved:
		return "moved"
	default:
		return "unknown"
	}
}

// Event is one debounced filesystem observation.
type Event struct {
	Path       string
	Kind       Kind
	ObservedAt time.Time

	// OldPath is set for moves when the prior name is known.
	OldPath string
}

// Options tunes an Observer.
type Options struct {
	// Debounce is how long a path must stay quiet before its pending
	// event is emitted.
	Debounce time.Duration

	// PollInterval is the scan period for roots in polling mode.
	PollInterval time.Duration

	// ShouldProcess filters paths before any observation is recorded.
	// Nil admits everything.
	ShouldProcess func(string) bool

	// ForcePolling skips the notification backend entirely.
	ForcePolling bool
}

type pendingEvent struct {
	kind     Kind
	oldPath  string
	deadline time.Time
}

type fileStat struct {
	modTime time.Time
	size    int64
}

// Observer watches the configured roots and emits debounced Events.
type Observer struct {
	roots []string
	opts  Options

	fsWatcher *fsnotify.Watcher
	degraded  bool

	mu       sync.Mutex
	pending  map[string]pendingEvent
	lastStat map[string]fileStat

	events chan Event
	errors chan error
	rescan chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates an Observer over roots. Each root must exist at Start.
func New(roots []string, opts Options) (*Observer, error) {
	if len(roots) == 0 {
		return nil, errors.New("watcher: no roots to observe")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ShouldProcess == nil {
		opts.ShouldProcess = func(string) bool { return true }
	}

	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return nil, err
		}
		abs = append(abs, a)
	}

	return &Observer{
		roots:    abs,
		opts:     opts,
		pending:  make(map[string]pendingEvent),
		lastStat: make(map[string]fileStat),
		events:   make(chan Event, 100),
		errors:   make(chan error, 10),
		rescan:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Events returns the channel of debounced observations.
func (o *Observer) Events() <-chan Event { return o.events }

// Errors returns the channel of backend errors.
func (o *Observer) Errors() <-chan error { return o.errors }

// Rescan signals that events may have been lost and a full
// reconciliation pass is needed.
func (o *Observer) Rescan() <-chan struct{} { return o.rescan }

// Degraded reports whether the Observer fell back to polling.
func (o *Observer) Degraded() bool { return o.degraded }

// Start begins observation. When the notification backend cannot be
// set up, the Observer degrades to polling instead of failing.
func (o *Observer) Start() error {
	for _, root := range o.roots {
		if _, err := os.Stat(root); err != nil {
			return err
		}
	}

	if !o.opts.ForcePolling {
		if err := o.startNotify(); err == nil {
			o.wg.Add(2)
			go o.eventLoop()
			go o.flushLoop()
			return nil
		} else {
			select {
			case o.errors <- err:
			default:
			}
		}
	}

	o.degraded = true
	o.seedStats()
	o.wg.Add(2)
	go o.pollLoop()
	go o.flushLoop()
	return nil
}

// Stop shuts the Observer down and closes its channels.
func (o *Observer) Stop() error {
	close(o.done)
	o.wg.Wait()
	var err error
	if o.fsWatcher != nil {
		err = o.fsWatcher.Close()
	}
	close(o.events)
	close(o.errors)
	return err
}

// startNotify wires up fsnotify watches for every directory under the
// roots. fsnotify watches are not recursive, so each subdirectory gets
// its own watch.
func (o *Observer) startNotify() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range o.roots {
		if err := addRecursive(fw, root); err != nil {
			fw.Close()
			return err
		}
	}
	o.fsWatcher = fw
	o.seedStats()
	return nil
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

// seedStats records the current mtime and size of every file under the
// roots, so the first observed write can be checked against a prior
// state.
func (o *Observer) seedStats() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, root := range o.roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if !o.opts.ShouldProcess(path) {
				return nil
			}
			if info, ierr := d.Info(); ierr == nil {
				o.lastStat[path] = fileStat{modTime: info.ModTime(), size: info.Size()}
			}
			return nil
		})
	}
}

// eventLoop handles raw fsnotify events.
func (o *Observer) eventLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return

		case ev, ok := <-o.fsWatcher.Events:
			if !ok {
				return
			}
			o.handleNotify(ev)

		case err, ok := <-o.fsWatcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				o.signalRescan()
				continue
			}
			select {
			case o.errors <- err:
			default:
			}
		}
	}
}

func (o *Observer) handleNotify(ev fsnotify.Event) {
	// New directories need their own watch before their contents can
	// be observed.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addRecursive(o.fsWatcher, ev.Name); err != nil {
				select {
				case o.errors <- err:
				default:
				}
			}
			// Contents created before the watch attached would be
			// silent; make sure a reconciliation pass picks them up.
			o.signalRescan()
			return
		}
	}

	if !o.opts.ShouldProcess(ev.Name) {
		return
	}

	var kind Kind
	var oldPath string
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = KindCreated
	case ev.Op&fsnotify.Write != 0:
		kind = KindModified
	case ev.Op&fsnotify.Remove != 0:
		kind = KindDeleted
	case ev.Op&fsnotify.Rename != 0:
		kind = KindMoved
		oldPath = ev.Name
	default:
		return
	}

	o.record(ev.Name, kind, oldPath)
}

// record merges a raw observation into the pending set and restarts the
// path's debounce window.
func (o *Observer) record(path string, kind Kind, oldPath string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	prev, exists := o.pending[path]
	merged := kind
	if exists {
		// A create followed by writes is still a create; everything
		// else resolves to the latest kind.
		if prev.kind == KindCreated && kind == KindModified {
			merged = KindCreated
		}
	}
	if oldPath == "" {
		oldPath = prev.oldPath
	}
	o.pending[path] = pendingEvent{
		kind:     merged,
		oldPath:  oldPath,
		deadline: time.Now().Add(o.opts.Debounce),
	}
}

// flushLoop emits pending events whose debounce window has elapsed.
func (o *Observer) flushLoop() {
	defer o.wg.Done()

	tick := o.opts.Debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case now := <-ticker.C:
			o.flush(now)
		}
	}
}

func (o *Observer) flush(now time.Time) {
	o.mu.Lock()
	var ready []Event
	for path, p := range o.pending {
		if p.deadline.After(now) {
			continue
		}
		ev := Event{Path: path, Kind: p.kind, ObservedAt: now, OldPath: p.oldPath}
		if p.kind == KindModified && !o.statChangedLocked(path) {
			// Metadata round-trip with identical mtime and size;
			// nothing observable changed.
			delete(o.pending, path)
			continue
		}
		o.noteStatLocked(path, p.kind)
		delete(o.pending, path)
		ready = append(ready, ev)
	}
	o.mu.Unlock()

	for _, ev := range ready {
		select {
		case o.events <- ev:
		case <-o.done:
			return
		}
	}
}

// statChangedLocked reports whether path's mtime or size differs from
// the last emitted observation. Unknown paths count as changed.
func (o *Observer) statChangedLocked(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	last, ok := o.lastStat[path]
	if !ok {
		return true
	}
	return !info.ModTime().Equal(last.modTime) || info.Size() != last.size
}

func (o *Observer) noteStatLocked(path string, kind Kind) {
	if kind == KindDeleted || kind == KindMoved {
		delete(o.lastStat, path)
		return
	}
	if info, err := os.Stat(path); err == nil {
		o.lastStat[path] = fileStat{modTime: info.ModTime(), size: info.Size()}
	}
}

func (o *Observer) signalRescan() {
	select {
	case o.rescan <- struct{}{}:
	default:
	}
}

// pollLoop is the degraded-mode scanner: walk the roots on a fixed
// interval and synthesize events from stat differences.
func (o *Observer) pollLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
			o.pollOnce()
		}
	}
}

func (o *Observer) pollOnce() {
	current := make(map[string]fileStat)
	for _, root := range o.roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if !o.opts.ShouldProcess(path) {
				return nil
			}
			if info, ierr := d.Info(); ierr == nil {
				current[path] = fileStat{modTime: info.ModTime(), size: info.Size()}
			}
			return nil
		})
	}

	o.mu.Lock()
	for path, st := range current {
		last, seen := o.lastStat[path]
		switch {
		case !seen:
			o.pending[path] = pendingEvent{kind: KindCreated, deadline: time.Now()}
		case !st.modTime.Equal(last.modTime) || st.size != last.size:
			if p, exists := o.pending[path]; !exists || p.kind != KindCreated {
				o.pending[path] = pendingEvent{kind: KindModified, deadline: time.Now()}
			}
		}
	}
	for path := range o.lastStat {
		if _, still := current[path]; !still {
			o.pending[path] = pendingEvent{kind: KindDeleted, deadline: time.Now()}
		}
	}
	o.mu.Unlock()
}
