package trafficsim

//
// Scheduled tasks
//

import (
	"errors"
	"reflect"
	"runtime"
	"strings"
)

// ErrNilCallback indicates that a [Task] has no callback.
var ErrNilCallback = errors.New("trafficsim: task has nil callback")

// TaskFunc is the callback invoked when a [Task] becomes due. The
// arguments are the ones bound to the [Task] when it was created.
type TaskFunc func(args []any, kwargs map[string]any) error

// Task is a time-stamped unit of work. A task is a value: once created
// it is pushed once into a [TaskQueue] and popped at most once.
type Task struct {
	// StartTime is the simulation time in seconds when the task is due.
	StartTime float64

	// Name identifies the task in log messages.
	Name string

	// Callback is the function to invoke.
	Callback TaskFunc

	// Args contains the positional arguments for Callback.
	Args []any

	// Kwargs contains the keyword arguments for Callback.
	Kwargs map[string]any
}

// NewTask creates a new [Task]. When name is empty, we use the name of
// the callback function. Nil args and kwargs become empty values.
func NewTask(startTime float64, callback TaskFunc, name string, args []any, kwargs map[string]any) Task {
	if name == "" {
		name = callbackName(callback)
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return Task{
		StartTime: startTime,
		Name:      name,
		Callback:  callback,
		Args:      args,
		Kwargs:    kwargs,
	}
}

// Run invokes the task callback with the bound arguments.
func (t Task) Run() error {
	if t.Callback == nil {
		return ErrNilCallback
	}
	return t.Callback(t.Args, t.Kwargs)
}

// callbackName returns the short name of a function.
func callbackName(fn TaskFunc) string {
	if fn == nil {
		return "Task"
	}
	fi := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if fi == nil {
		return "Task"
	}
	name := fi.Name()
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}
