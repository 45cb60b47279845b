package mission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
)

// ErrNotFound means no run has the requested id.
var ErrNotFound = errors.New("NOT_FOUND")

// Status of a mission run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Run is a snapshot of one batch of missions.
type Run struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Missions  int       `json:"missions"`
	Completed int       `json:"completed"`
	Reports   []Report  `json:"reports"`
	Error     string    `json:"error,omitempty"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished,omitempty"`
}

type runState struct {
	run    Run
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner runs one batch of missions at a time in the background.
type Runner struct {
	mu      sync.Mutex
	seq     *Sequencer
	runs    map[string]*runState
	active  *runState
	manual  int // manual operations in flight
	nextRun int
	wg      sync.WaitGroup
	logger  *logrus.Entry
}

// NewRunner creates a runner for seq.
func NewRunner(seq *Sequencer, logger *logrus.Logger) *Runner {
	return &Runner{
		seq:    seq,
		runs:   make(map[string]*runState),
		logger: logger.WithField("component", "mission-runner"),
	}
}

// Start launches count missions. It fails with adapter.ErrBusy while
// another batch runs or a manual operation holds the robot. The batch outlives ctx's cancellation but keeps its
// values.
func (r *Runner) Start(ctx context.Context, count int) (Run, error) {
	if count < 1 {
		return Run{}, fmt.Errorf("%w: mission count must be at least 1, got %d", adapter.ErrInvalidRange, count)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return Run{}, fmt.Errorf("%w: mission run %s in progress", adapter.ErrBusy, r.active.run.ID)
	}
	if r.manual > 0 {
		return Run{}, fmt.Errorf("%w: manual control in progress", adapter.ErrBusy)
	}

	r.nextRun++
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state := &runState{
		run: Run{
			ID:       fmt.Sprintf("run-%d", r.nextRun),
			Status:   StatusRunning,
			Missions: count,
			Started:  r.seq.clock.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.runs[state.run.ID] = state
	r.active = state

	r.wg.Add(1)
	go r.execute(runCtx, state)

	r.logger.WithFields(logrus.Fields{"run": state.run.ID, "missions": count}).Info("Mission run started")
	return state.run, nil
}

func (r *Runner) execute(ctx context.Context, state *runState) {
	defer r.wg.Done()
	defer close(state.done)
	defer state.cancel()

	_, err := r.seq.Run(ctx, state.run.Missions, func(report Report) {
		r.mu.Lock()
		defer r.mu.Unlock()
		state.run.Reports = append(state.run.Reports, report)
		if report.Error == "" {
			state.run.Completed++
		}
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	state.run.Finished = r.seq.clock.Now()
	switch {
	case err == nil:
		state.run.Status = StatusCompleted
	case errors.Is(err, context.Canceled):
		state.run.Status = StatusCanceled
		state.run.Error = err.Error()
	default:
		state.run.Status = StatusFailed
		state.run.Error = err.Error()
	}
	r.active = nil

	r.logger.WithFields(logrus.Fields{"run": state.run.ID, "status": state.run.Status}).Info("Mission run finished")
}

// Get returns a snapshot of the run.
func (r *Runner) Get(id string) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.runs[id]
	if !ok {
		return Run{}, fmt.Errorf("%w: mission run %q", ErrNotFound, id)
	}
	return snapshot(state.run), nil
}

// Busy reports whether a batch is running.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// AcquireManual reserves the robot for one manual operation and returns
// the function that releases it. It fails with adapter.ErrBusy while a
// batch runs; Start fails the same way until every reservation is
// released.
func (r *Runner) AcquireManual() (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return nil, fmt.Errorf("%w: mission run %s in progress", adapter.ErrBusy, r.active.run.ID)
	}
	r.manual++

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.manual--
			r.mu.Unlock()
		})
	}, nil
}

// Cancel stops the run. The running primitive ends with a stop.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	state, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: mission run %q", ErrNotFound, id)
	}
	state.cancel()
	return nil
}

// Wait blocks until the run finishes or ctx ends.
func (r *Runner) Wait(ctx context.Context, id string) (Run, error) {
	r.mu.Lock()
	state, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return Run{}, fmt.Errorf("%w: mission run %q", ErrNotFound, id)
	}

	select {
	case <-state.done:
		return r.Get(id)
	case <-ctx.Done():
		return Run{}, ctx.Err()
	}
}

// Shutdown cancels every run and waits for them to stop.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for _, state := range r.runs {
		state.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func snapshot(run Run) Run {
	run.Reports = append([]Report(nil), run.Reports...)
	return run
}
