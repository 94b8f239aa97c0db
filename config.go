package trafficsim

//
// Run profile
//

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates that a run profile is not valid.
var ErrInvalidConfig = errors.New("trafficsim: invalid config")

// RunConfig is the YAML run profile of a traffic simulation.
type RunConfig struct {
	// Capture configures the capture pipeline.
	Capture CaptureConfig `yaml:"capture"`

	// Control configures the control server.
	Control ControlConfig `yaml:"control"`

	// Hosts contains the emulated hosts issuing requests.
	Hosts []HostConfig `yaml:"hosts"`

	// Servers contains the emulated local servers.
	Servers []HostConfig `yaml:"servers"`

	// Simulation configures the scheduler.
	Simulation SimulationProfile `yaml:"simulation"`

	// Traffic configures the traffic generation.
	Traffic TrafficConfig `yaml:"traffic"`
}

// CaptureConfig configures the capture pipeline.
type CaptureConfig struct {
	// Interface is the network interface to capture from.
	Interface string `yaml:"interface"`

	// Output is the base name of the CSV packet log.
	Output string `yaml:"output"`

	// PCAP is the optional path of the raw PCAP trace.
	PCAP string `yaml:"pcap,omitempty"`

	// BatchSize is the optional CSV write batch size.
	BatchSize int `yaml:"batchSize,omitempty"`
}

// ControlConfig configures the control server.
type ControlConfig struct {
	// Listen is the optional endpoint where to listen.
	Listen string `yaml:"listen,omitempty"`
}

// HostConfig describes an emulated host.
type HostConfig struct {
	// Name is the host name.
	Name string `yaml:"name"`

	// IP is the host IP address.
	IP string `yaml:"ip"`

	// PID is the optional PID owning the host network namespace.
	PID int `yaml:"pid,omitempty"`
}

// SimulationProfile configures the scheduler.
type SimulationProfile struct {
	// RealTime selects the real-time clock.
	RealTime bool `yaml:"realTime"`

	// StartTimeOfDay is the time of the day in seconds when we start.
	StartTimeOfDay float64 `yaml:"startTimeOfDay"`

	// PacingDelay is the optional delay between discretized dispatch batches.
	PacingDelay time.Duration `yaml:"pacingDelay,omitempty"`

	// Seed is the optional seed of the random number generator.
	Seed int64 `yaml:"seed,omitempty"`

	// Timeout is the optional maximum time we wait for the simulation.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// TrafficConfig configures the traffic generation.
type TrafficConfig struct {
	// Websites is the optional path of the JSON website list.
	Websites string `yaml:"websites,omitempty"`

	// Files is the optional path of the JSON FTP file list.
	Files string `yaml:"files,omitempty"`

	// Distribution is the optional path of the CSV traffic distribution.
	Distribution string `yaml:"distribution,omitempty"`

	// Duration is the duration in seconds of the distribution-based plan.
	Duration float64 `yaml:"duration,omitempty"`

	// TotalRequests is the number of requests of the distribution-based plan.
	TotalRequests int `yaml:"totalRequests,omitempty"`

	// Schedule contains the explicitly scheduled requests.
	Schedule []ScheduleEntry `yaml:"schedule,omitempty"`
}

// ScheduleEntry is an explicitly scheduled [PlannedRequests].
type ScheduleEntry struct {
	// SimTime is the simulation time in seconds.
	SimTime float64 `yaml:"simTime"`

	// Count is the number of requests.
	Count int `yaml:"count"`
}

// LoadRunConfig reads and validates the YAML run profile at path.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRunConfig(data)
}

// ParseRunConfig parses and validates a YAML run profile.
func ParseRunConfig(data []byte) (*RunConfig, error) {
	rc := &RunConfig{}
	if err := yaml.Unmarshal(data, rc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err.Error())
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	return rc, nil
}

// Validate returns an error wrapping [ErrInvalidConfig] and naming the
// offending field when the run profile is not valid.
func (rc *RunConfig) Validate() error {
	if rc.Capture.Interface == "" {
		return invalidField("capture.interface", "must not be empty")
	}
	if rc.Capture.Output == "" {
		return invalidField("capture.output", "must not be empty")
	}
	if rc.Capture.BatchSize < 0 {
		return invalidField("capture.batchSize", "must not be negative")
	}
	if len(rc.Hosts) <= 0 {
		return invalidField("hosts", "must contain at least one host")
	}
	for idx, hc := range rc.Hosts {
		if err := hc.validate(fmt.Sprintf("hosts[%d]", idx)); err != nil {
			return err
		}
	}
	for idx, hc := range rc.Servers {
		if err := hc.validate(fmt.Sprintf("servers[%d]", idx)); err != nil {
			return err
		}
	}
	if rc.Simulation.StartTimeOfDay < 0 || rc.Simulation.StartTimeOfDay >= secondsInADay {
		return invalidField("simulation.startTimeOfDay", "must be within [0, 86400)")
	}
	if rc.Simulation.Timeout < 0 {
		return invalidField("simulation.timeout", "must not be negative")
	}
	if rc.Traffic.Distribution != "" && (rc.Traffic.Duration <= 0 || rc.Traffic.TotalRequests <= 0) {
		return invalidField("traffic.distribution", "requires positive duration and totalRequests")
	}
	for idx, entry := range rc.Traffic.Schedule {
		if entry.SimTime < 0 || entry.Count < 0 {
			return invalidField(fmt.Sprintf("traffic.schedule[%d]", idx), "must not be negative")
		}
	}
	return nil
}

// validate validates a host config.
func (hc *HostConfig) validate(field string) error {
	if hc.Name == "" {
		return invalidField(field+".name", "must not be empty")
	}
	if hc.IP == "" {
		return invalidField(field+".ip", "must not be empty")
	}
	if hc.PID < 0 {
		return invalidField(field+".pid", "must not be negative")
	}
	return nil
}

// invalidField returns an error wrapping [ErrInvalidConfig].
func invalidField(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidConfig, field, reason)
}

// Dumps returns the YAML serialization of the run profile.
func (rc *RunConfig) Dumps() string {
	return string(Must1(yaml.Marshal(rc)))
}

// NewHosts creates the client and server [NamespaceHost] instances.
func (rc *RunConfig) NewHosts(logger Logger, runner CommandRunner) (clients, servers []Host, err error) {
	build := func(configs []HostConfig) ([]Host, error) {
		hosts := []Host{}
		for _, hc := range configs {
			host, err := NewNamespaceHost(&NamespaceHostConfig{
				IP:     hc.IP,
				Logger: logger,
				Name:   hc.Name,
				PID:    hc.PID,
				Runner: runner,
			})
			if err != nil {
				return nil, err
			}
			hosts = append(hosts, host)
		}
		return hosts, nil
	}
	if clients, err = build(rc.Hosts); err != nil {
		return nil, nil, err
	}
	if servers, err = build(rc.Servers); err != nil {
		return nil, nil, err
	}
	return clients, servers, nil
}

// Plan returns the explicitly scheduled requests followed by the requests
// sampled from the traffic distribution, if any.
func (rc *RunConfig) Plan(rnd *rand.Rand) ([]PlannedRequests, error) {
	plan := []PlannedRequests{}
	for _, entry := range rc.Traffic.Schedule {
		plan = append(plan, PlannedRequests{SimTime: entry.SimTime, Count: entry.Count})
	}
	if rc.Traffic.Distribution == "" {
		return plan, nil
	}
	td, err := LoadTrafficDistribution(rc.Traffic.Distribution)
	if err != nil {
		return nil, err
	}
	sampled, err := td.Plan(&TrafficPlanConfig{
		Duration:       rc.Traffic.Duration,
		Rand:           rnd,
		StartTimeOfDay: rc.Simulation.StartTimeOfDay,
		TotalRequests:  rc.Traffic.TotalRequests,
	})
	if err != nil {
		return nil, err
	}
	return append(plan, sampled...), nil
}

// NewTrafficGenerator loads the website and file lists and creates the
// [TrafficGenerator] for the given hosts.
func (rc *RunConfig) NewTrafficGenerator(logger Logger, clients, servers []Host, rnd *rand.Rand) (*TrafficGenerator, error) {
	config := &TrafficGeneratorConfig{
		Clients: clients,
		Logger:  logger,
		Rand:    rnd,
		Servers: servers,
	}
	if rc.Traffic.Websites != "" {
		websites, err := LoadWebsiteList(rc.Traffic.Websites)
		if err != nil {
			return nil, err
		}
		config.Websites = websites
	}
	if rc.Traffic.Files != "" {
		files, err := LoadFileList(rc.Traffic.Files)
		if err != nil {
			return nil, err
		}
		config.Files = files
	}
	return NewTrafficGenerator(config)
}
