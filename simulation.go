package trafficsim

//
// Discrete-event simulation scheduler
//

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SimulationState is the state of a [Simulation].
type SimulationState int32

const (
	// SimulationCreated means [Simulation.Start] has not been called yet.
	SimulationCreated = SimulationState(iota)

	// SimulationRunning means the scheduler loop is dispatching tasks.
	SimulationRunning

	// SimulationDraining means [Simulation.Stop] has been called and the
	// scheduler loop has not exited yet.
	SimulationDraining

	// SimulationStopped means the scheduler loop has exited.
	SimulationStopped
)

// String implements fmt.Stringer
func (st SimulationState) String() string {
	switch st {
	case SimulationCreated:
		return "created"
	case SimulationRunning:
		return "running"
	case SimulationDraining:
		return "draining"
	case SimulationStopped:
		return "stopped"
	default:
		return fmt.Sprintf("SimulationState(%d)", int32(st))
	}
}

// ErrAlreadyStarted indicates that a component has already been started.
var ErrAlreadyStarted = errors.New("trafficsim: already started")

// ErrNotStarted indicates that a component has not been started.
var ErrNotStarted = errors.New("trafficsim: not started")

// ErrTaskPanic wraps the value passed to panic by a task callback.
var ErrTaskPanic = errors.New("trafficsim: task panicked")

// secondsInADay is the period of the simulated time of the day.
const secondsInADay = 86400

// DefaultPacingDelay is the delay between dispatch batches when the
// simulation does not run in real time.
const DefaultPacingDelay = 50 * time.Millisecond

// SimulationConfig contains config for creating a [Simulation]. Make sure
// you initialize all the fields marked as MANDATORY.
type SimulationConfig struct {
	// ID is the OPTIONAL unique ID of the simulation run. When empty,
	// we generate a random UUID.
	ID string

	// Logger is the MANDATORY logger.
	Logger Logger

	// Metrics contains the OPTIONAL prometheus metrics.
	Metrics *Metrics

	// PacingDelay is the OPTIONAL delay between dispatch batches in
	// discretized mode. When zero, we use [DefaultPacingDelay]. A negative
	// value disables pacing.
	PacingDelay time.Duration

	// Queue is the MANDATORY queue of tasks, which may be empty and
	// may be filled while the simulation is running.
	Queue *TaskQueue

	// RealTime is OPTIONAL and indicates whether the simulation clock
	// should track the wall clock. Otherwise, the clock jumps directly
	// to the start time of the next task.
	RealTime bool

	// StartTimeOfDay is the OPTIONAL time of the day in seconds at which
	// the simulation starts, used by [Simulation.TimeOfDay].
	StartTimeOfDay float64
}

// Simulation drains a [TaskQueue] in time order advancing a simulation
// clock and runs each due task in its own goroutine. The zero value is
// invalid; use [NewSimulation] to instantiate.
type Simulation struct {
	// cancel wakes up the scheduler loop and tells it to stop.
	cancel context.CancelFunc

	// ctx is the context canceled by Stop.
	ctx context.Context

	// id uniquely identifies this simulation run.
	id string

	// inflight contains a done channel for each running task execution.
	inflight map[uint64]chan any

	// joined is closed when the scheduler loop has terminated.
	joined chan any

	// joinOnce provides "once" semantics for closing joined.
	joinOnce sync.Once

	// logger is the logger to use.
	logger Logger

	// metrics contains the optional metrics.
	metrics *Metrics

	// mu protects t, t0, inflight, nextExec, and the dispatch statistics.
	mu sync.Mutex

	// nextExec is the key of the next entry of inflight.
	nextExec uint64

	// pacing is the delay between discretized dispatch batches.
	pacing time.Duration

	// queue is the queue of tasks.
	queue *TaskQueue

	// realTime indicates whether we're running in real time.
	realTime bool

	// state contains the SimulationState.
	state atomic.Int32

	// startTimeOfDay is the time of the day when the simulation starts.
	startTimeOfDay float64

	// stats contains dispatch statistics.
	stats dispatchStats

	// t is the simulation clock.
	t float64

	// t0 is when the scheduler loop started.
	t0 time.Time
}

var _ SimulationClock = &Simulation{}

// NewSimulation creates a new [Simulation] in the [SimulationCreated]
// state. Call [Simulation.Start] to start dispatching tasks.
func NewSimulation(config *SimulationConfig) *Simulation {
	pacing := config.PacingDelay
	switch {
	case pacing == 0:
		pacing = DefaultPacingDelay
	case pacing < 0:
		pacing = 0
	}
	id := config.ID
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Simulation{
		cancel:         cancel,
		ctx:            ctx,
		id:             id,
		inflight:       map[uint64]chan any{},
		joined:         make(chan any),
		joinOnce:       sync.Once{},
		logger:         config.Logger,
		metrics:        config.Metrics,
		mu:             sync.Mutex{},
		nextExec:       0,
		pacing:         pacing,
		queue:          config.Queue,
		realTime:       config.RealTime,
		startTimeOfDay: config.StartTimeOfDay,
		t:              0,
	}
}

// ID returns the unique ID of this simulation run.
func (s *Simulation) ID() string {
	return s.id
}

// State returns the current [SimulationState].
func (s *Simulation) State() SimulationState {
	return SimulationState(s.state.Load())
}

// Done returns a channel closed when the scheduler loop has exited.
func (s *Simulation) Done() <-chan any {
	return s.joined
}

var _ clockReader = &Simulation{}

// Time implements SimulationClock
func (s *Simulation) Time() float64 {
	defer s.mu.Unlock()
	s.mu.Lock()
	return s.t
}

// TimeOfDay implements SimulationClock
func (s *Simulation) TimeOfDay() float64 {
	_, tod := s.now()
	return tod
}

// now returns the clock and the time of the day read under the same lock.
func (s *Simulation) now() (t, tod float64) {
	s.mu.Lock()
	t = s.t
	s.mu.Unlock()
	return t, math.Mod(t+s.startTimeOfDay, secondsInADay)
}

// Start starts the scheduler loop in a background goroutine. This
// function returns [ErrAlreadyStarted] when called more than once.
func (s *Simulation) Start() error {
	if !s.state.CompareAndSwap(int32(SimulationCreated), int32(SimulationRunning)) {
		return ErrAlreadyStarted
	}
	s.mu.Lock()
	s.t0 = time.Now()
	s.mu.Unlock()
	go s.loop()
	return nil
}

// Stop tells the scheduler loop to exit without dispatching the tasks
// still in the queue. The tasks already running are not interrupted. A
// simulation that was never started transitions directly to stopped.
func (s *Simulation) Stop() {
	s.cancel()
	if s.state.CompareAndSwap(int32(SimulationRunning), int32(SimulationDraining)) {
		return
	}
	if s.state.CompareAndSwap(int32(SimulationCreated), int32(SimulationStopped)) {
		s.joinOnce.Do(func() { close(s.joined) })
	}
}

// WaitForCompletion waits for the task executions already dispatched when
// it is called to return. It does not wait for the scheduler loop, which
// may still be dispatching tasks: use [Simulation.Done] for that. Use a
// context with a timeout to bound the wait; when the context is done we
// return its error, but we do not interrupt any running task. We return
// [ErrNotStarted] when the simulation has not been started.
func (s *Simulation) WaitForCompletion(ctx context.Context) error {
	if s.State() == SimulationCreated {
		return ErrNotStarted
	}
	s.mu.Lock()
	running := make([]chan any, 0, len(s.inflight))
	for _, done := range s.inflight {
		running = append(running, done)
	}
	s.mu.Unlock()
	for _, done := range running {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// loop is the scheduler loop.
func (s *Simulation) loop() {
	// synchronize with Done and Stop
	defer func() {
		s.state.Store(int32(SimulationStopped))
		s.joinOnce.Do(func() { close(s.joined) })
	}()

	s.logger.Infof("trafficsim: %s starting simulation %s", FormatSimulationTime(0), s.id)

	for {
		// honor Stop before any blocking wait
		if s.ctx.Err() != nil {
			s.logger.Warnf("trafficsim: %s simulation loop has been stopped", FormatSimulationTime(s.Time()))
			return
		}

		// the simulation ends when there are no more tasks
		next, good := s.queue.Peek()
		if !good {
			s.logger.Infof("trafficsim: %s no more tasks to run", FormatSimulationTime(s.Time()))
			return
		}

		// advance the clock and wait for the task to be due
		var t float64
		if s.realTime {
			t = s.elapsed()
			if next.StartTime > t {
				// a Push may bring in an earlier task, so peek again
				// after any wakeup
				s.sleep(secondsToDuration(next.StartTime-t), s.queue.Available())
				continue
			}
			s.setTime(t)
		} else {
			// the clock never goes backwards, even when a producer pushes
			// a task that is earlier than the current clock
			t = math.Max(next.StartTime, s.Time())
			s.setTime(t)
			if !s.sleep(s.pacing, nil) {
				continue
			}
		}

		// dispatch all the tasks that are due
		s.dispatchDue(t)
	}
}

// elapsed returns the seconds elapsed since the loop started.
func (s *Simulation) elapsed() float64 {
	s.mu.Lock()
	t0 := s.t0
	s.mu.Unlock()
	return time.Since(t0).Seconds()
}

// setTime sets the simulation clock.
func (s *Simulation) setTime(t float64) {
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
	s.metrics.setSimulationTime(t)
}

// sleep waits for the given duration, until Stop is called, or until
// wakeup is readable, when not nil. This function returns true only
// when the whole duration has elapsed.
func (s *Simulation) sleep(d time.Duration, wakeup <-chan any) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-wakeup:
		return false
	case <-timer.C:
		return true
	}
}

// dispatchDue pops and dispatches all the tasks due at time t.
func (s *Simulation) dispatchDue(t float64) {
	for {
		task, good := s.queue.popDue(t)
		if !good {
			return
		}
		s.dispatch(task, t)
	}
}

// dispatch runs the given task in a background goroutine.
func (s *Simulation) dispatch(task Task, t float64) {
	var lag time.Duration
	if s.realTime {
		lag = secondsToDuration(s.elapsed() - task.StartTime)
	}
	done := make(chan any)
	s.mu.Lock()
	s.stats.dispatched(lag)
	key := s.nextExec
	s.nextExec++
	s.inflight[key] = done
	s.mu.Unlock()
	s.metrics.taskDispatched()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
			close(done)
		}()
		s.runTask(task, t)
	}()
}

// runTask runs a task and logs its outcome. A failing task never
// affects the scheduler loop or other tasks.
func (s *Simulation) runTask(task Task, t float64) {
	now := FormatSimulationTime(t)
	s.logger.Infof("trafficsim: %s starting task %s", now, task.Name)

	if err := invokeTask(task); err != nil {
		s.logger.Warnf("trafficsim: %s task %s failed: %s", now, task.Name, err.Error())
		s.mu.Lock()
		s.stats.failed++
		s.mu.Unlock()
		s.metrics.taskFailed()
		return
	}

	s.logger.Debugf("trafficsim: %s successfully executed task %s", now, task.Name)
	s.mu.Lock()
	s.stats.succeeded++
	s.mu.Unlock()
}

// invokeTask runs the task converting a panic into an error.
func invokeTask(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return task.Run()
}

// secondsToDuration converts floating point seconds to a duration.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
