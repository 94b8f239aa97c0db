package trafficsim

import (
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apex/log"
)

// countingFunc returns a TaskFunc counting its invocations.
func countingFunc(counter *atomic.Int64, err error) TaskFunc {
	return func(args []any, kwargs map[string]any) error {
		counter.Add(1)
		return err
	}
}

func TestPeriodicTaskRunsForDuration(t *testing.T) {
	counter := &atomic.Int64{}
	task := NewPeriodicTask(&NullLogger{}, &PeriodicTaskConfig{
		Duration:     150 * time.Millisecond,
		Func:         countingFunc(counter, nil),
		MeanInterval: 10 * time.Millisecond,
		Rand:         rand.New(rand.NewSource(1)),
		StdDev:       time.Nanosecond,
	})
	if task.Name() != "task" {
		t.Fatal("unexpected default name", task.Name())
	}
	start := time.Now()
	task.Start()
	task.Start() // no effect
	task.Join()
	elapsed := time.Since(start)

	if count := counter.Load(); count < 3 {
		t.Fatal("too few invocations", count)
	}
	if elapsed < 150*time.Millisecond {
		t.Fatal("the task terminated too early", elapsed)
	}
}

func TestPeriodicTaskStopInterruptsWait(t *testing.T) {
	counter := &atomic.Int64{}
	task := NewPeriodicTask(&NullLogger{}, &PeriodicTaskConfig{
		Duration:     time.Hour,
		Func:         countingFunc(counter, nil),
		MeanInterval: time.Hour,
		Name:         "slow",
		StdDev:       time.Nanosecond,
	})
	task.Start()
	time.Sleep(20 * time.Millisecond)
	task.Stop()

	joined := make(chan any)
	go func() {
		task.Join()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not interrupt the wait")
	}
	if count := counter.Load(); count != 1 {
		t.Fatal("unexpected invocations", count)
	}
}

func TestPeriodicTaskFailuresAreLogged(t *testing.T) {
	logger, handler := newMemoryLogger()
	counter := &atomic.Int64{}
	task := NewPeriodicTask(logger, &PeriodicTaskConfig{
		Duration:     30 * time.Millisecond,
		Func:         countingFunc(counter, errors.New("mocked error")),
		MeanInterval: 5 * time.Millisecond,
		Name:         "flaky",
		StdDev:       time.Nanosecond,
	})
	task.Start()
	task.Join()
	if got := countEntries(handler, log.WarnLevel, "task flaky failed: mocked error"); got != int(counter.Load()) {
		t.Fatal("expected one warning per invocation", got, counter.Load())
	}
}

func TestPeriodicTaskNextInterval(t *testing.T) {
	task := NewPeriodicTask(&NullLogger{}, &PeriodicTaskConfig{
		Func:         countingFunc(&atomic.Int64{}, nil),
		MeanInterval: time.Millisecond,
		Rand:         rand.New(rand.NewSource(7)),
		StdDev:       time.Second,
	})
	for idx := 0; idx < 1000; idx++ {
		if interval := task.nextInterval(); interval < 0 {
			t.Fatal("negative interval", interval)
		}
	}
}

func TestPeriodicScheduler(t *testing.T) {
	counter := &atomic.Int64{}
	ps := NewPeriodicScheduler(&NullLogger{})
	for idx := 0; idx < 3; idx++ {
		ps.StartTask(&PeriodicTaskConfig{
			Duration:     time.Hour,
			Func:         countingFunc(counter, nil),
			MeanInterval: time.Hour,
			StdDev:       time.Nanosecond,
		})
	}
	time.Sleep(20 * time.Millisecond)
	ps.StopTasks()

	joined := make(chan any)
	go func() {
		ps.JoinTasks()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(5 * time.Second):
		t.Fatal("StopTasks did not stop the tasks")
	}
	if count := counter.Load(); count != 3 {
		t.Fatal("unexpected invocations", count)
	}
}
