package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/catmosaic/catmosaic/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrPanic wraps a panic recovered from a worker step.
var ErrPanic = errors.New("worker panicked")

// Task is one unit of supervised work, run in a loop.
type Task interface {
	Name() string
	Step(ctx context.Context) error
}

// SupervisorConfig configures restart behavior for a pool.
type SupervisorConfig struct {
	Pool           string
	InitialBackoff time.Duration // first restart delay (default: 500ms)
	MaxBackoff     time.Duration // restart delay cap (default: 30s)
	UnhealthyAfter int           // consecutive failures before a worker is unhealthy (default: 3)
	Metrics        *metrics.Metrics
}

// WorkerState is a snapshot of one supervised worker.
type WorkerState struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Steps     uint64 `json:"steps"`
	Dropped   uint64 `json:"dropped"`
	Failures  int    `json:"consecutive_failures"`
	Restarts  int    `json:"restarts"`
	LastError string `json:"last_error,omitempty"`
}

// Supervisor runs a pool of tasks, restarting each after a failed or
// panicking step with exponential backoff.
type Supervisor struct {
	cfg SupervisorConfig

	mu     sync.Mutex
	tasks  []Task
	states []WorkerState
}

// NewSupervisor creates a supervisor for one pool.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.UnhealthyAfter <= 0 {
		cfg.UnhealthyAfter = 3
	}
	return &Supervisor{cfg: cfg}
}

// Pool returns the pool name.
func (s *Supervisor) Pool() string {
	return s.cfg.Pool
}

// Add registers a task. Tasks must be added before Run.
func (s *Supervisor) Add(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	s.states = append(s.states, WorkerState{Name: task.Name(), Healthy: true})
}

// Run runs every task until ctx is cancelled. Worker failures never end Run.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		g.Go(func() error {
			s.loop(ctx, i, task)
			return nil
		})
	}
	log.Info().Str("pool", s.cfg.Pool).Int("workers", len(tasks)).Msg("worker pool started")
	err := g.Wait()
	log.Info().Str("pool", s.cfg.Pool).Msg("worker pool stopped")
	return err
}

func (s *Supervisor) loop(ctx context.Context, i int, task Task) {
	backoff := s.cfg.InitialBackoff

	for ctx.Err() == nil {
		err := runStep(ctx, task)
		switch {
		case err == nil:
			s.recordSuccess(i, false)
			backoff = s.cfg.InitialBackoff

		case ctx.Err() != nil:
			return

		case errors.Is(err, ErrDropped):
			log.Warn().Err(err).Str("worker", task.Name()).Msg("dropped payload")
			s.recordSuccess(i, true)
			backoff = s.cfg.InitialBackoff

		default:
			failures := s.recordFailure(i, err)
			ev := log.Warn()
			if errors.Is(err, ErrPanic) {
				ev = log.Error()
			}
			ev.Err(err).
				Str("worker", task.Name()).
				Int("failures", failures).
				Dur("restart_in", backoff).
				Msg("worker step failed")
			if failures == s.cfg.UnhealthyAfter {
				log.Error().Str("worker", task.Name()).Int("failures", failures).Msg("worker unhealthy")
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			if s.cfg.Metrics != nil {
				s.cfg.Metrics.WorkerRestarts.WithLabelValues(s.cfg.Pool).Inc()
			}

			// Exponential backoff with cap
			backoff *= 2
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
		}
	}
}

// runStep runs one step, converting a panic into an error.
func runStep(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("worker", task.Name()).Str("stack", string(debug.Stack())).Msg("recovered panic")
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return task.Step(ctx)
}

func (s *Supervisor) recordSuccess(i int, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.states[i]
	if !st.Healthy {
		log.Info().Str("worker", st.Name).Msg("worker healthy again")
	}
	st.Steps++
	if dropped {
		st.Dropped++
	}
	st.Failures = 0
	st.Healthy = true
}

func (s *Supervisor) recordFailure(i int, err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.states[i]
	st.Steps++
	st.Failures++
	st.Restarts++
	st.LastError = err.Error()
	if st.Failures >= s.cfg.UnhealthyAfter {
		st.Healthy = false
	}
	return st.Failures
}

// States returns a snapshot of every worker in the pool.
func (s *Supervisor) States() []WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WorkerState(nil), s.states...)
}

// Health summarizes the pool.
func (s *Supervisor) Health() metrics.PoolHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := metrics.PoolHealth{Pool: s.cfg.Pool, Workers: len(s.states)}
	for _, st := range s.states {
		if st.Healthy {
			h.Healthy++
		}
	}
	return h
}

// Group is a set of supervised pools reported together.
type Group []*Supervisor

// PoolHealth implements metrics.HealthReporter.
func (g Group) PoolHealth() []metrics.PoolHealth {
	out := make([]metrics.PoolHealth, 0, len(g))
	for _, s := range g {
		out = append(out, s.Health())
	}
	return out
}

// Healthy reports whether every pool has at least one healthy worker.
func (g Group) Healthy() bool {
	for _, s := range g {
		if s.Health().Healthy == 0 {
			return false
		}
	}
	return true
}

// States returns worker snapshots keyed by pool name.
func (g Group) States() map[string][]WorkerState {
	out := make(map[string][]WorkerState, len(g))
	for _, s := range g {
		out[s.Pool()] = s.States()
	}
	return out
}

// Run runs every pool until ctx is cancelled.
func (g Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, s := range g {
		eg.Go(func() error { return s.Run(ctx) })
	}
	return eg.Wait()
}
