// Package pipeline implements the indexing run: diff against the
// index, bounded-concurrency file processing, and batched uploads,
// with an observable status tracker.
package pipeline

import (
	"log/slog"
	"sync"
	"time"
)

// Phase is the coarse state of the indexing pipeline.
type Phase string

const (
	// PhaseNotIndexing means no run is active.
	PhaseNotIndexing Phase = "not_indexing"
	// PhaseCalculatingDiff means the scan and diff are in progress.
	PhaseCalculatingDiff Phase = "calculating_diff"
	// PhaseIndexing means files are being processed and uploaded.
	PhaseIndexing Phase = "indexing"
)

// EventType identifies tracker events pushed to subscribers.
type EventType string

const (
	EventStarted        EventType = "started"
	EventDiffFailed     EventType = "diff_failed"
	EventDiffCalculated EventType = "diff_calculated"
	EventFileProcessed  EventType = "file_processed"
	EventFilesSent      EventType = "files_sent"
	EventFileError      EventType = "file_error"
	EventFailed         EventType = "failed"
	EventFinished       EventType = "finished"
)

// errorCap bounds the soft error list kept per run.
const errorCap = 20

// subscriberBuffer is the per-subscriber event channel capacity. A
// subscriber that falls behind loses events, never blocks the run.
const subscriberBuffer = 64

// FileError is a non-fatal per-file failure.
type FileError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Snapshot is a point-in-time copy of the tracker state.
type Snapshot struct {
	Phase Phase `json:"phase"`

	ToAdd    int `json:"to_add"`
	ToUpdate int `json:"to_update"`
	ToRemove int `json:"to_remove"`

	Processed int `json:"processed"`
	Sent      int `json:"sent"`

	// StartedAt is the start of the current or last run, zero before
	// the first run.
	StartedAt time.Time `json:"started_at,omitzero"`

	// ElapsedSeconds is time since StartedAt while a run is active, or
	// the duration of the last finished run.
	ElapsedSeconds float64 `json:"elapsed_seconds"`

	// Errors are the most recent soft errors, capped at errorCap.
	Errors []FileError `json:"errors,omitempty"`

	// DroppedErrors counts soft errors that fell out of the cap.
	DroppedErrors int `json:"dropped_errors,omitempty"`

	// FatalError is set when the last run aborted (diff or flush).
	FatalError string `json:"fatal_error,omitempty"`
}

// Event is pushed to subscribers on every tracker transition. It
// carries the snapshot taken right after the transition.
type Event struct {
	Type     EventType `json:"type"`
	Snapshot Snapshot  `json:"snapshot"`
}

// Tracker records indexing progress. The pipeline is the single
// writer; readers get consistent snapshots.
type Tracker struct {
	mu sync.RWMutex

	phase     Phase
	toAdd     int
	toUpdate  int
	toRemove  int
	processed int
	sent      int

	startedAt time.Time
	lastRun   time.Duration

	errors  []FileError
	dropped int
	fatal   string

	subs    map[int]chan Event
	nextSub int

	logger *slog.Logger
}

// NewTracker creates a tracker in the NotIndexing phase.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		phase:  PhaseNotIndexing,
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Started begins a run: counters reset, phase moves to CalculatingDiff.
func (t *Tracker) Started() {
	t.mu.Lock()
	t.phase = PhaseCalculatingDiff
	t.toAdd, t.toUpdate, t.toRemove = 0, 0, 0
	t.processed, t.sent = 0, 0
	t.errors = nil
	t.dropped = 0
	t.fatal = ""
	t.startedAt = time.Now()
	t.lastRun = 0
	t.publishLocked(EventStarted)
	t.mu.Unlock()

	t.logger.Info("indexing_started")
}

// DiffCalculated moves the run into the Indexing phase.
func (t *Tracker) DiffCalculated(toAdd, toUpdate, toRemove int) {
	t.mu.Lock()
	t.phase = PhaseIndexing
	t.toAdd = toAdd
	t.toUpdate = toUpdate
	t.toRemove = toRemove
	t.publishLocked(EventDiffCalculated)
	t.mu.Unlock()

	t.logger.Info("diff_calculated",
		slog.Int("to_add", toAdd),
		slog.Int("to_update", toUpdate),
		slog.Int("to_remove", toRemove))
}

// DiffFailed aborts the run before any processing happened.
func (t *Tracker) DiffFailed(err error) {
	t.mu.Lock()
	t.phase = PhaseNotIndexing
	t.fatal = err.Error()
	t.lastRun = time.Since(t.startedAt)
	t.publishLocked(EventDiffFailed)
	t.mu.Unlock()

	t.logger.Error("diff_failed", slog.String("error", err.Error()))
}

// FileProcessed bumps the processed counter, regardless of whether the
// file produced a document.
func (t *Tracker) FileProcessed() {
	t.mu.Lock()
	t.processed++
	t.publishLocked(EventFileProcessed)
	t.mu.Unlock()
}

// FileError records a non-fatal per-file failure. The list is capped;
// beyond the cap only the counter grows.
func (t *Tracker) FileError(path string, err error) {
	t.mu.Lock()
	if len(t.errors) < errorCap {
		t.errors = append(t.errors, FileError{Path: path, Message: err.Error()})
	} else {
		t.dropped++
	}
	t.publishLocked(EventFileError)
	t.mu.Unlock()

	t.logger.Warn("file_skipped",
		slog.String("path", path),
		slog.String("error", err.Error()))
}

// FilesSent records a successfully committed batch.
func (t *Tracker) FilesSent(n int) {
	t.mu.Lock()
	t.sent += n
	t.publishLocked(EventFilesSent)
	t.mu.Unlock()
}

// Failed aborts a run mid-flight (flush exhausted its retries).
func (t *Tracker) Failed(err error) {
	t.mu.Lock()
	t.phase = PhaseNotIndexing
	t.fatal = err.Error()
	t.lastRun = time.Since(t.startedAt)
	t.publishLocked(EventFailed)
	t.mu.Unlock()

	t.logger.Error("indexing_failed", slog.String("error", err.Error()))
}

// Finished completes a run normally.
func (t *Tracker) Finished() {
	t.mu.Lock()
	t.phase = PhaseNotIndexing
	t.lastRun = time.Since(t.startedAt)
	duration := t.lastRun
	t.publishLocked(EventFinished)
	t.mu.Unlock()

	t.logger.Info("indexing_finished",
		slog.Duration("duration", duration))
}

// IsIndexing reports whether a run is active.
func (t *Tracker) IsIndexing() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase != PhaseNotIndexing
}

// Snapshot returns a consistent copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:         t.phase,
		ToAdd:         t.toAdd,
		ToUpdate:      t.toUpdate,
		ToRemove:      t.toRemove,
		Processed:     t.processed,
		Sent:          t.sent,
		StartedAt:     t.startedAt,
		DroppedErrors: t.dropped,
		FatalError:    t.fatal,
	}
	if len(t.errors) > 0 {
		snap.Errors = make([]FileError, len(t.errors))
		copy(snap.Errors, t.errors)
	}
	if !t.startedAt.IsZero() {
		if t.phase == PhaseNotIndexing {
			snap.ElapsedSeconds = t.lastRun.Seconds()
		} else {
			snap.ElapsedSeconds = time.Since(t.startedAt).Seconds()
		}
	}
	return snap
}

// Subscribe registers an event channel. The returned function
// unsubscribes and closes the channel.
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan Event, subscriberBuffer)
	t.subs[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publishLocked pushes an event to every subscriber without blocking.
func (t *Tracker) publishLocked(typ EventType) {
	if len(t.subs) == 0 {
		return
	}
	event := Event{Type: typ, Snapshot: t.snapshotLocked()}
	for _, ch := range t.subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber, drop the event.
		}
	}
}
