package trafficsim

//
// Emulated hosts
//

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CommandRunner runs a program and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecCommandRunner is the [CommandRunner] using [exec.CommandContext].
func ExecCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	/* #nosec */
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NamespaceHostConfig contains config for creating a [NamespaceHost]. Make
// sure you initialize all the fields marked as MANDATORY.
type NamespaceHostConfig struct {
	// IP is the MANDATORY host IP address.
	IP string

	// Logger is the MANDATORY logger.
	Logger Logger

	// Name is the MANDATORY host name (e.g., "h1").
	Name string

	// PID is the OPTIONAL PID of the process owning the host network
	// namespace. When zero, we run commands in the current namespace.
	PID int

	// Runner is the OPTIONAL [CommandRunner]. When nil, we use
	// [ExecCommandRunner].
	Runner CommandRunner

	// Timeout is the OPTIONAL timeout of each command. When zero, we
	// use a 30 seconds timeout.
	Timeout time.Duration
}

// NamespaceHost is a [Host] whose commands run inside the network
// namespace of an emulated host using mnexec. The zero value is invalid;
// use [NewNamespaceHost] to instantiate.
type NamespaceHost struct {
	ip      string
	logger  Logger
	name    string
	pid     int
	runner  CommandRunner
	timeout time.Duration
}

var _ Host = &NamespaceHost{}

// ErrInvalidHost indicates that a host config lacks mandatory fields.
var ErrInvalidHost = errors.New("trafficsim: host name or IP address not specified")

// NewNamespaceHost creates a new [NamespaceHost].
func NewNamespaceHost(config *NamespaceHostConfig) (*NamespaceHost, error) {
	if config.Name == "" || config.IP == "" {
		return nil, ErrInvalidHost
	}
	nh := &NamespaceHost{
		ip:      config.IP,
		logger:  config.Logger,
		name:    config.Name,
		pid:     config.PID,
		runner:  config.Runner,
		timeout: config.Timeout,
	}
	if nh.runner == nil {
		nh.runner = ExecCommandRunner
	}
	if nh.timeout <= 0 {
		nh.timeout = 30 * time.Second
	}
	return nh, nil
}

// Name implements Host
func (nh *NamespaceHost) Name() string {
	return nh.name
}

// IP implements Host
func (nh *NamespaceHost) IP() string {
	return nh.ip
}

// String implements fmt.Stringer
func (nh *NamespaceHost) String() string {
	return nh.name
}

// Cmd implements Host
func (nh *NamespaceHost) Cmd(command string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), nh.timeout)
	defer cancel()
	name, args := nh.argv(command)
	nh.logger.Debugf("trafficsim: %s>> %s", nh.name, command)
	output, err := nh.runner(ctx, name, args...)
	nh.logger.Debugf("trafficsim: %s<< %s", nh.name, strings.TrimSpace(string(output)))
	return string(output), err
}

// argv returns the program and the arguments to run command.
func (nh *NamespaceHost) argv(command string) (string, []string) {
	if nh.pid <= 0 {
		return "sh", []string{"-c", command}
	}
	return "mnexec", []string{"-a", strconv.Itoa(nh.pid), "sh", "-c", command}
}
