// Package reloadenv drives selective reloads from a dotenv file. It polls
// the file, diffs the key set against the previous snapshot and calls
// LifecycleProcessor.TriggerReload with only the keys that changed, so
// services watching unrelated keys stay undisturbed. The core scope layer
// carries no configuration surface of its own; this package is the
// external config-watcher collaborator it expects.
package reloadenv

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/joho/godotenv"

	scopes "github.com/centraunit/goallin_scopes"
)

// Watcher polls one dotenv file and reloads on changes.
type Watcher struct {
	path     string
	proc     *scopes.LifecycleProcessor
	interval time.Duration
	log      scopes.Logger

	mu       sync.Mutex
	prev     map[string]string
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the poll interval. Defaults to 10s.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		w.interval = d
	}
}

// WithLogger replaces the default slog-backed logger.
func WithLogger(l scopes.Logger) Option {
	return func(w *Watcher) {
		w.log = l.WithComponent("reloadenv")
	}
}

// New creates a watcher over the dotenv file at path, reloading through
// proc.
func New(path string, proc *scopes.LifecycleProcessor, opts ...Option) *Watcher {
	w := &Watcher{
		path:     path,
		proc:     proc,
		interval: 10 * time.Second,
		log:      scopes.NewSlogAdapter(slog.Default()).WithComponent("reloadenv"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start primes the snapshot from the current file contents and begins
// polling. Returns the initial load error, if any.
func (w *Watcher) Start() error {
	vars, err := godotenv.Read(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.prev = vars
	w.mu.Unlock()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll runs one load-diff-reload cycle. Exported so an admin command can
// force a check between ticks, or drive the watcher without Start.
func (w *Watcher) Poll() {
	vars, err := godotenv.Read(w.path)
	if err != nil {
		w.log.Warn("env file unreadable, skipping reload cycle",
			"path", w.path,
			"error", err.Error(),
		)
		return
	}
	w.mu.Lock()
	changed := Diff(w.prev, vars)
	w.prev = vars
	w.mu.Unlock()
	if len(changed) == 0 {
		return
	}
	w.log.Info("configuration changed, reloading", "keys", changed)
	w.proc.TriggerReload(changed...)
}

// Stop halts polling and waits for the loop to exit. Idempotent; no-op
// when the watcher was never started.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.stop == nil {
			return
		}
		close(w.stop)
		<-w.done
	})
}

// Diff returns the keys added, removed, or whose value differs between two
// snapshots, sorted.
func Diff(prev, next map[string]string) []string {
	var changed []string
	for k, v := range next {
		if pv, ok := prev[k]; !ok || pv != v {
			changed = append(changed, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
