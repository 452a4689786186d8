package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"postflow/internal/eventbus"
	"postflow/internal/publish"
	"postflow/internal/storage"
	logx "postflow/pkg/logx"
)

// Config tunes runner behavior. Zero values pick the defaults.
type Config struct {
	// PausePoll is the granularity of the cooperative pause wait.
	PausePoll time.Duration
}

const defaultPausePoll = time.Second

// Deps are the pipeline's collaborators. Enhancer and Publisher are
// required; Analytics only for smart mode; Store only for runs that
// check duplicates.
type Deps struct {
	Enhancer  publish.Enhancer
	Publisher publish.Publisher
	Analytics publish.Analytics
	Store     storage.Store
	Bus       eventbus.Bus
	Observers Observers
	Log       logx.Logger
}

// Service owns the run state machine. It processes one run at a time,
// strictly serially; all mutable run state (log, progress, state) is
// written only by the runner goroutine and the public entry points.
type Service struct {
	cfg       Config
	log       logx.Logger
	bus       eventbus.Bus
	enhancer  publish.Enhancer
	publisher publish.Publisher
	analytics publish.Analytics
	store     storage.Store
	obs       Observers

	now func() time.Time

	mu       sync.Mutex
	state    RunState
	runID    string
	entries  []LogEntry
	progress Progress
	counts   RunCounts

	cancelFlag atomic.Bool
	pauseFlag  atomic.Bool

	wg sync.WaitGroup
}

func New(cfg Config, deps Deps) *Service {
	if cfg.PausePoll <= 0 {
		cfg.PausePoll = defaultPausePoll
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		bus:       deps.Bus,
		enhancer:  deps.Enhancer,
		publisher: deps.Publisher,
		analytics: deps.Analytics,
		store:     deps.Store,
		obs:       deps.Observers,
		now:       time.Now,
		state:     StateIdle,
	}
}

// Start validates the request, generates slots, and launches the run
// worker. It returns without waiting for the run to finish. Validation
// and slot-generation failures are reported both as an error and as a
// run log entry; the state never enters Running on failure.
func (s *Service) Start(ctx context.Context, req RunRequest) error {
	s.mu.Lock()
	if s.state.active() {
		s.mu.Unlock()
		return ErrRunInProgress
	}
	s.mu.Unlock()

	if err := s.validate(req); err != nil {
		s.appendLog(LogEntry{Status: StatusError, Message: err.Error()})
		s.log.Warn("run rejected", logx.Err(err))
		return err
	}

	slots, err := s.generateSlots(ctx, req)
	if err != nil {
		s.appendLog(LogEntry{Status: StatusError, Message: "slot generation failed: " + err.Error()})
		s.log.Error("slot generation failed", logx.Err(err))
		return err
	}

	s.mu.Lock()
	if s.state.active() {
		s.mu.Unlock()
		return ErrRunInProgress
	}
	s.runID = uuid.NewString()
	s.entries = nil
	s.progress = Progress{Current: 0, Total: len(req.Queue)}
	s.counts = RunCounts{}
	s.cancelFlag.Store(false)
	runID := s.runID
	s.mu.Unlock()

	s.setState(StateRunning)
	s.emitProgress(s.Progress())

	s.log.Info("run started",
		logx.String("run", runID),
		logx.String("destination", req.Destination.ID),
		logx.String("mode", string(req.Schedule.Mode)),
		logx.Int("items", len(req.Queue)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, req, slots)
	}()
	return nil
}

func (s *Service) validate(req RunRequest) error {
	if len(req.Queue) == 0 {
		return ErrEmptyQueue
	}
	if req.Destination.IsZero() {
		return ErrNoDestination
	}
	if req.CheckDuplicates && s.store == nil {
		return ErrNoLedger
	}
	return req.Schedule.Validate()
}

// RequestCancel sets the cancellation flag and returns immediately.
// The flag takes effect at the top of the item loop or during the pause
// wait; an in-flight item always finishes first. The check and the
// Cancelling transition happen under one lock so a run that completes
// concurrently stays Completed.
func (s *Service) RequestCancel() {
	s.cancelFlag.Store(true)
	s.mu.Lock()
	if s.state != StateRunning && s.state != StatePaused {
		s.mu.Unlock()
		return
	}
	s.state = StateCancelling
	runID := s.runID
	s.mu.Unlock()
	s.emitState(runID, StateCancelling)
}

// Toggle is the single start/stop entry point kept for the original
// control surface: while a run is active it requests cancellation,
// otherwise it starts a new run.
func (s *Service) Toggle(ctx context.Context, req RunRequest) error {
	s.mu.Lock()
	active := s.state.active()
	s.mu.Unlock()
	if active {
		s.RequestCancel()
		return nil
	}
	return s.Start(ctx, req)
}

// SetPaused sets the pause flag. Pausing takes effect between items;
// resuming continues from the same index.
func (s *Service) SetPaused(v bool) { s.pauseFlag.Store(v) }

func (s *Service) Paused() bool { return s.pauseFlag.Load() }

// Wait blocks until the current run's worker exits.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Entries returns the run log, most recent first. Storage is
// append-ordered; the reversal is purely presentation.
func (s *Service) Entries() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.entries))
	for i, e := range s.entries {
		out[len(s.entries)-1-i] = e
	}
	return out
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		RunID:    s.runID,
		State:    s.state,
		Progress: s.progress,
		Counts:   s.counts,
	}
	s.mu.Unlock()
	snap.Log = s.Entries()
	return snap
}

// ---- mutation helpers (runner side) ----

func (s *Service) setState(v RunState) {
	s.mu.Lock()
	if s.state == v {
		s.mu.Unlock()
		return
	}
	s.state = v
	runID := s.runID
	s.mu.Unlock()
	s.emitState(runID, v)
}

func (s *Service) emitState(runID string, v RunState) {
	if s.obs.OnRunState != nil {
		s.obs.OnRunState(v)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRunState, RunID: runID, Data: v})
	}
}

func (s *Service) setProgress(current, total int) {
	s.mu.Lock()
	if current > s.progress.Current {
		s.progress.Current = current
	}
	s.progress.Total = total
	p := s.progress
	runID := s.runID
	s.mu.Unlock()

	s.emitProgressFor(runID, p)
}

func (s *Service) emitProgress(p Progress) {
	s.mu.Lock()
	runID := s.runID
	s.mu.Unlock()
	s.emitProgressFor(runID, p)
}

func (s *Service) emitProgressFor(runID string, p Progress) {
	if s.obs.OnProgress != nil {
		s.obs.OnProgress(p)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRunProgress, RunID: runID, Data: p})
	}
}

func (s *Service) appendLog(e LogEntry) {
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	s.mu.Lock()
	s.entries = append(s.entries, e)
	runID := s.runID
	s.mu.Unlock()

	if s.obs.OnLog != nil {
		s.obs.OnLog(e)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRunLog, RunID: runID, Data: e})
	}
}

func (s *Service) addCount(f func(*RunCounts)) {
	s.mu.Lock()
	f(&s.counts)
	s.mu.Unlock()
}

func (s *Service) notifyAuthFailure() {
	if s.obs.OnAuthFailure != nil {
		s.obs.OnAuthFailure()
	}
	if s.bus != nil {
		s.mu.Lock()
		runID := s.runID
		s.mu.Unlock()
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeAuthFailure, RunID: runID})
	}
}
