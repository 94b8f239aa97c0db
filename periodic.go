package trafficsim

//
// Periodic tasks with normally distributed intervals
//

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// PeriodicTaskConfig contains config for creating a [PeriodicTask]. Make
// sure you initialize all the fields marked as MANDATORY.
type PeriodicTaskConfig struct {
	// Args contains the OPTIONAL positional arguments for Func.
	Args []any

	// Duration is the OPTIONAL total time during which we keep
	// invoking Func. When zero, we use 20 seconds.
	Duration time.Duration

	// Func is the MANDATORY function to invoke periodically.
	Func TaskFunc

	// Kwargs contains the OPTIONAL keyword arguments for Func.
	Kwargs map[string]any

	// MeanInterval is the OPTIONAL mean interval between two invocations
	// of Func. When zero, we use 5 seconds.
	MeanInterval time.Duration

	// Name is the OPTIONAL task name.
	Name string

	// Rand is the OPTIONAL random number generator for the intervals,
	// which MUST NOT be shared with other tasks.
	Rand *rand.Rand

	// StdDev is the OPTIONAL standard deviation of the interval between
	// two invocations of Func. When zero, we use 1.2 seconds.
	StdDev time.Duration
}

// PeriodicTask invokes a function repeatedly for a bounded amount of
// time, waiting a normally distributed interval between invocations. The
// zero value is invalid; use [NewPeriodicTask] to instantiate.
type PeriodicTask struct {
	// cancel interrupts the loop.
	cancel context.CancelFunc

	// cfg is the config.
	cfg PeriodicTaskConfig

	// ctx is canceled by Stop.
	ctx context.Context

	// joined is closed when the loop has terminated.
	joined chan any

	// logger is the logger to use.
	logger Logger

	// rnd generates random intervals.
	rnd *rand.Rand

	// startOnce provides "once" semantics for Start.
	startOnce sync.Once
}

// NewPeriodicTask creates a new [PeriodicTask]. Use [PeriodicTask.Start]
// to start it in a background goroutine.
func NewPeriodicTask(logger Logger, config *PeriodicTaskConfig) *PeriodicTask {
	cfg := *config // copy
	if cfg.Duration == 0 {
		cfg.Duration = 20 * time.Second
	}
	if cfg.MeanInterval == 0 {
		cfg.MeanInterval = 5 * time.Second
	}
	if cfg.StdDev == 0 {
		cfg.StdDev = 1200 * time.Millisecond
	}
	if cfg.Name == "" {
		cfg.Name = "task"
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PeriodicTask{
		cancel:    cancel,
		cfg:       cfg,
		ctx:       ctx,
		joined:    make(chan any),
		logger:    logger,
		rnd:       rnd,
		startOnce: sync.Once{},
	}
}

// Name returns the task name.
func (pt *PeriodicTask) Name() string {
	return pt.cfg.Name
}

// Start starts the background goroutine. Calling Start more than once
// has no effect.
func (pt *PeriodicTask) Start() {
	pt.startOnce.Do(func() {
		go pt.loop()
	})
}

// Stop interrupts the task, including any pending wait between two
// invocations. An invocation in progress runs to completion.
func (pt *PeriodicTask) Stop() {
	pt.cancel()
}

// Join waits for the background goroutine to terminate. You MUST call
// Start before calling Join, otherwise Join never returns.
func (pt *PeriodicTask) Join() {
	<-pt.joined
}

// loop is the loop invoking the function.
func (pt *PeriodicTask) loop() {
	// synchronize with Join
	defer close(pt.joined)

	pt.logger.Infof("trafficsim: starting task %s for %s", pt.cfg.Name, pt.cfg.Duration)
	defer pt.logger.Infof("trafficsim: task %s finished or was stopped", pt.cfg.Name)

	deadline := time.Now().Add(pt.cfg.Duration)
	for time.Now().Before(deadline) && pt.ctx.Err() == nil {
		if err := invokeTask(NewTask(0, pt.cfg.Func, pt.cfg.Name, pt.cfg.Args, pt.cfg.Kwargs)); err != nil {
			pt.logger.Warnf("trafficsim: task %s failed: %s", pt.cfg.Name, err.Error())
		}

		// wait for the next invocation or until we're stopped
		timer := time.NewTimer(pt.nextInterval())
		select {
		case <-pt.ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	}
}

// nextInterval samples the interval from a normal distribution. We
// clamp the interval to zero, since the sample may be negative when
// the standard deviation is large.
func (pt *PeriodicTask) nextInterval() time.Duration {
	sample := pt.rnd.NormFloat64()
	interval := time.Duration(float64(pt.cfg.MeanInterval) + sample*float64(pt.cfg.StdDev))
	if interval < 0 {
		interval = 0
	}
	return interval
}

// PeriodicScheduler manages a set of [PeriodicTask]. The zero value is
// invalid; use [NewPeriodicScheduler] to instantiate.
//
// Unlike [Simulation], the tasks in a PeriodicScheduler do not share a
// clock and their invocations are not ordered with respect to each other.
type PeriodicScheduler struct {
	// logger is the logger.
	logger Logger

	// mu provides mutual exclusion.
	mu sync.Mutex

	// tasks contains the started tasks.
	tasks []*PeriodicTask
}

// NewPeriodicScheduler creates a new [PeriodicScheduler].
func NewPeriodicScheduler(logger Logger) *PeriodicScheduler {
	return &PeriodicScheduler{
		logger: logger,
		mu:     sync.Mutex{},
		tasks:  []*PeriodicTask{},
	}
}

// StartTask creates and starts a new [PeriodicTask].
func (ps *PeriodicScheduler) StartTask(config *PeriodicTaskConfig) *PeriodicTask {
	task := NewPeriodicTask(ps.logger, config)
	ps.mu.Lock()
	ps.tasks = append(ps.tasks, task)
	ps.mu.Unlock()
	task.Start()
	return task
}

// JoinTasks waits for all the started tasks to terminate.
func (ps *PeriodicScheduler) JoinTasks() {
	for _, task := range ps.tasksShallowCopy() {
		task.Join()
	}
}

// StopTasks tells all the started tasks to stop.
func (ps *PeriodicScheduler) StopTasks() {
	for _, task := range ps.tasksShallowCopy() {
		task.Stop()
	}
}

// tasksShallowCopy returns a shallow copy of the tasks.
func (ps *PeriodicScheduler) tasksShallowCopy() []*PeriodicTask {
	defer ps.mu.Unlock()
	ps.mu.Lock()
	return append([]*PeriodicTask{}, ps.tasks...) // copy
}
