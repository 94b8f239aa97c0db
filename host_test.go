package trafficsim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// recordedCommand is a command received by a recordingRunner.
type recordedCommand struct {
	Name        string
	Args        []string
	HasDeadline bool
}

// recordingRunner returns a CommandRunner saving the commands.
func recordingRunner(output string, err error, saved *[]recordedCommand) CommandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		_, hasDeadline := ctx.Deadline()
		*saved = append(*saved, recordedCommand{Name: name, Args: args, HasDeadline: hasDeadline})
		return []byte(output), err
	}
}

func TestNewNamespaceHost(t *testing.T) {
	type testcase struct {
		name   string
		config *NamespaceHostConfig
	}

	cases := []testcase{{
		name:   "without name",
		config: &NamespaceHostConfig{IP: "10.0.0.1", Logger: &NullLogger{}},
	}, {
		name:   "without IP",
		config: &NamespaceHostConfig{Name: "h1", Logger: &NullLogger{}},
	}}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewNamespaceHost(tc.config); !errors.Is(err, ErrInvalidHost) {
				t.Fatal("unexpected error", err)
			}
		})
	}
}

func TestNamespaceHostCmd(t *testing.T) {
	type testcase struct {
		name   string
		pid    int
		expect recordedCommand
	}

	cases := []testcase{{
		name: "in the current namespace",
		pid:  0,
		expect: recordedCommand{
			Name:        "sh",
			Args:        []string{"-c", "curl -s -o /dev/null https://10.0.0.3"},
			HasDeadline: true,
		},
	}, {
		name: "in the host namespace",
		pid:  4242,
		expect: recordedCommand{
			Name:        "mnexec",
			Args:        []string{"-a", "4242", "sh", "-c", "curl -s -o /dev/null https://10.0.0.3"},
			HasDeadline: true,
		},
	}}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var saved []recordedCommand
			host := Must1(NewNamespaceHost(&NamespaceHostConfig{
				IP:      "10.0.0.1",
				Logger:  &NullLogger{},
				Name:    "h1",
				PID:     tc.pid,
				Runner:  recordingRunner("ok\n", nil, &saved),
				Timeout: time.Second,
			}))
			if host.Name() != "h1" || host.IP() != "10.0.0.1" || host.String() != "h1" {
				t.Fatal("unexpected host identity")
			}
			output, err := host.Cmd("curl -s -o /dev/null https://10.0.0.3")
			if err != nil {
				t.Fatal(err)
			}
			if output != "ok\n" {
				t.Fatal("unexpected output", output)
			}
			if diff := cmp.Diff([]recordedCommand{tc.expect}, saved); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestNamespaceHostCmdFailure(t *testing.T) {
	var saved []recordedCommand
	expected := errors.New("exit status 7")
	host := Must1(NewNamespaceHost(&NamespaceHostConfig{
		IP:     "10.0.0.1",
		Logger: &NullLogger{},
		Name:   "h1",
		Runner: recordingRunner("connection refused", expected, &saved),
	}))
	output, err := host.Cmd("false")
	if !errors.Is(err, expected) {
		t.Fatal("unexpected error", err)
	}
	if output != "connection refused" {
		t.Fatal("unexpected output", output)
	}
}

func TestExecCommandRunner(t *testing.T) {
	if testing.Short() {
		t.Skip("skip test in short mode")
	}
	output, err := ExecCommandRunner(context.Background(), "sh", "-c", "echo hello")
	if err != nil {
		t.Skip("cannot run sh", err)
	}
	if string(output) != "hello\n" {
		t.Fatal("unexpected output", string(output))
	}
}
