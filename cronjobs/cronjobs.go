// Package cronjobs schedules clustering runs and publishes their snapshots.
package cronjobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"go-citizenlink/metrics"
	"go-citizenlink/processor"
	"go-citizenlink/types"
)

var (
	ErrStopped = errors.New("scheduler stopped")
	ErrBusy    = errors.New("clustering run already in flight")
)

type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Runner computes one snapshot generation.
type Runner interface {
	Run(ctx context.Context, req processor.Request) (*types.Snapshot, error)
}

type Config struct {
	Interval time.Duration
	// InitialDelay postpones the first run after Start. Negative disables it.
	InitialDelay time.Duration
	// OnlyIfChanged skips scheduled runs while the complaint set is unchanged.
	// Triggered runs always recompute.
	OnlyIfChanged bool
}

type Status struct {
	State           string        `json:"state"`
	Generation      uint64        `json:"generation"`
	LastRun         time.Time     `json:"last_run"`
	LastRunDuration time.Duration `json:"last_run_duration"`
	NextRun         time.Time     `json:"next_run"`
	LastError       string        `json:"last_error,omitempty"`
	SkippedRuns     uint64        `json:"skipped_runs"`
}

// Scheduler runs the clustering pipeline on a cron schedule, never more
// than one run at a time. Readers get the latest snapshot without locking.
type Scheduler struct {
	runner  Runner
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	snapshot atomic.Pointer[types.Snapshot]
	cron     *cron.Cron
	entry    cron.EntryID

	mu      sync.Mutex
	state   State
	started bool
	done    chan struct{} // closed when the in-flight run ends
	delay   *time.Timer
	lastRun time.Time
	lastDur time.Duration
	lastErr error
	skipped uint64
}

func New(runner Runner, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		cron:    cron.New(),
	}
	s.snapshot.Store(types.EmptySnapshot(time.Now()))
	return s
}

// Start schedules ticks every Interval plus the initial delayed run.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	if s.cfg.Interval < time.Second {
		return fmt.Errorf("cluster interval %s is below one second", s.cfg.Interval)
	}

	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.Interval), s.tick)
	if err != nil {
		return fmt.Errorf("schedule clustering: %w", err)
	}
	s.entry = id
	s.cron.Start()
	if s.cfg.InitialDelay >= 0 {
		s.delay = time.AfterFunc(s.cfg.InitialDelay, func() {
			s.run(context.Background(), "initial", false)
		})
	}
	s.started = true

	s.logger.Info("clustering scheduler started",
		"interval", s.cfg.Interval, "initial_delay", s.cfg.InitialDelay, "only_if_changed", s.cfg.OnlyIfChanged)
	return nil
}

// Stop prevents new runs and waits for an in-flight run to finish, so a
// half-computed snapshot is never published. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	wasRunning := s.state == Running
	done := s.done
	s.state = Stopped
	if s.delay != nil {
		s.delay.Stop()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	if wasRunning {
		<-done
	}
	s.logger.Info("clustering scheduler stopped", "generation", s.LatestSnapshot().Generation)
}

// TriggerNow requests an immediate run without waiting for it. It is
// dropped if a run is already in flight or the scheduler is stopped.
func (s *Scheduler) TriggerNow() {
	s.mu.Lock()
	stopped := s.state == Stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	go s.run(context.Background(), "trigger", false)
}

// RunOnce runs synchronously and reports whether a new snapshot was
// published.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	return s.run(ctx, "manual", false)
}

func (s *Scheduler) LatestSnapshot() *types.Snapshot { return s.snapshot.Load() }

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{
		State:           s.state.String(),
		Generation:      s.LatestSnapshot().Generation,
		LastRun:         s.lastRun,
		LastRunDuration: s.lastDur,
		SkippedRuns:     s.skipped,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	scheduled := s.started && s.state != Stopped
	s.mu.Unlock()

	if scheduled {
		st.NextRun = s.cron.Entry(s.entry).Next
	}
	return st
}

func (s *Scheduler) tick() {
	s.run(context.Background(), "tick", s.cfg.OnlyIfChanged)
}

func (s *Scheduler) begin() (chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Stopped:
		return nil, ErrStopped
	case Running:
		s.skipped++
		return nil, ErrBusy
	}
	s.state = Running
	s.done = make(chan struct{})
	return s.done, nil
}

func (s *Scheduler) end(done chan struct{}, started time.Time, elapsed time.Duration, err error) {
	s.mu.Lock()
	if s.state == Running {
		s.state = Idle
	}
	s.lastRun = started
	s.lastDur = elapsed
	s.lastErr = err
	s.mu.Unlock()
	close(done)
}

func (s *Scheduler) run(ctx context.Context, trigger string, skipUnchanged bool) (bool, error) {
	done, err := s.begin()
	if errors.Is(err, ErrBusy) {
		s.metrics.SkipTick()
		s.logger.Info("clustering run skipped, previous run still in flight", "trigger", trigger)
		return false, err
	}
	if err != nil {
		return false, err
	}

	prev := s.LatestSnapshot()
	gen := prev.Generation + 1
	started := time.Now()
	snap, err := s.execute(ctx, processor.Request{
		Generation:    gen,
		Previous:      prev,
		SkipUnchanged: skipUnchanged,
	})
	elapsed := time.Since(started)

	switch {
	case errors.Is(err, processor.ErrUnchanged):
		s.metrics.ObserveRun("unchanged", elapsed)
		s.logger.Info("complaint set unchanged, keeping snapshot", "generation", prev.Generation, "trigger", trigger)
		s.end(done, started, elapsed, nil)
		return false, nil

	case err != nil:
		s.metrics.ObserveRun("failure", elapsed)
		attrs := []any{"generation", gen, "trigger", trigger, "duration", elapsed, "error", err}
		var runErr *processor.RunError
		if errors.As(err, &runErr) {
			attrs = append(attrs, "complaints", runErr.Complaints, "categories", runErr.Categories)
		}
		s.logger.Error("clustering run failed, keeping previous snapshot", attrs...)
		s.end(done, started, elapsed, err)
		return false, err
	}

	s.snapshot.Store(snap)
	s.metrics.ObserveRun("success", elapsed)
	s.metrics.Published(snap)
	s.logger.Info("snapshot published",
		"generation", snap.Generation,
		"trigger", trigger,
		"complaints", snap.Stats.Complaints,
		"clusters", len(snap.Clusters),
		"chains", len(snap.Chains),
		"excluded", len(snap.Exclusions),
		"duration", elapsed)
	s.end(done, started, elapsed, nil)
	return true, nil
}

// execute turns a runner panic into an error so the scheduler survives it.
func (s *Scheduler) execute(ctx context.Context, req processor.Request) (snap *types.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap = nil
			err = fmt.Errorf("clustering run panicked: %v\n%s", r, debug.Stack())
		}
	}()
	snap, err = s.runner.Run(ctx, req)
	if err == nil && snap == nil {
		err = errors.New("runner returned no snapshot")
	}
	return snap, err
}
