package trafficsim

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const validRunConfig = `
capture:
  interface: s1-eth1
  output: /tmp/capture
  batchSize: 50
control:
  listen: 127.0.0.1:9090
hosts:
  - name: h1
    ip: 10.0.0.1
    pid: 1234
  - name: h2
    ip: 10.0.0.2
servers:
  - name: h3
    ip: 10.0.0.3
simulation:
  realTime: false
  startTimeOfDay: 43200
  pacingDelay: 10ms
  seed: 7
  timeout: 5m
traffic:
  schedule:
    - simTime: 0
      count: 3
    - simTime: 1.5
      count: 2
`

func TestParseRunConfig(t *testing.T) {
	rc := Must1(ParseRunConfig([]byte(validRunConfig)))
	expect := &RunConfig{
		Capture: CaptureConfig{Interface: "s1-eth1", Output: "/tmp/capture", BatchSize: 50},
		Control: ControlConfig{Listen: "127.0.0.1:9090"},
		Hosts: []HostConfig{
			{Name: "h1", IP: "10.0.0.1", PID: 1234},
			{Name: "h2", IP: "10.0.0.2"},
		},
		Servers: []HostConfig{{Name: "h3", IP: "10.0.0.3"}},
		Simulation: SimulationProfile{
			StartTimeOfDay: 43200,
			PacingDelay:    10 * time.Millisecond,
			Seed:           7,
			Timeout:        5 * time.Minute,
		},
		Traffic: TrafficConfig{
			Schedule: []ScheduleEntry{{SimTime: 0, Count: 3}, {SimTime: 1.5, Count: 2}},
		},
	}
	if diff := cmp.Diff(expect, rc); diff != "" {
		t.Fatal(diff)
	}

	// the dump must be parseable again
	again := Must1(ParseRunConfig([]byte(rc.Dumps())))
	if diff := cmp.Diff(rc, again); diff != "" {
		t.Fatal(diff)
	}
}

func TestRunConfigValidate(t *testing.T) {
	type testcase struct {
		name   string
		modify func(rc *RunConfig)
		field  string
	}

	cases := []testcase{{
		name:   "without interface",
		modify: func(rc *RunConfig) { rc.Capture.Interface = "" },
		field:  "capture.interface",
	}, {
		name:   "without output",
		modify: func(rc *RunConfig) { rc.Capture.Output = "" },
		field:  "capture.output",
	}, {
		name:   "with negative batch size",
		modify: func(rc *RunConfig) { rc.Capture.BatchSize = -1 },
		field:  "capture.batchSize",
	}, {
		name:   "without hosts",
		modify: func(rc *RunConfig) { rc.Hosts = nil },
		field:  "hosts",
	}, {
		name:   "with unnamed host",
		modify: func(rc *RunConfig) { rc.Hosts[1].Name = "" },
		field:  "hosts[1].name",
	}, {
		name:   "with server without IP",
		modify: func(rc *RunConfig) { rc.Servers[0].IP = "" },
		field:  "servers[0].ip",
	}, {
		name:   "with negative PID",
		modify: func(rc *RunConfig) { rc.Hosts[0].PID = -1 },
		field:  "hosts[0].pid",
	}, {
		name:   "with time of day out of range",
		modify: func(rc *RunConfig) { rc.Simulation.StartTimeOfDay = 86400 },
		field:  "simulation.startTimeOfDay",
	}, {
		name:   "with negative timeout",
		modify: func(rc *RunConfig) { rc.Simulation.Timeout = -time.Second },
		field:  "simulation.timeout",
	}, {
		name:   "with distribution but no requests",
		modify: func(rc *RunConfig) { rc.Traffic.Distribution = "distribution.csv" },
		field:  "traffic.distribution",
	}, {
		name:   "with negative schedule count",
		modify: func(rc *RunConfig) { rc.Traffic.Schedule[1].Count = -1 },
		field:  "traffic.schedule[1]",
	}}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rc := Must1(ParseRunConfig([]byte(validRunConfig)))
			tc.modify(rc)
			err := rc.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatal("unexpected error", err)
			}
			if !strings.Contains(err.Error(), tc.field+" ") {
				t.Fatal("the error does not name the field", err)
			}
		})
	}

	t.Run("invalid YAML", func(t *testing.T) {
		if _, err := ParseRunConfig([]byte("hosts: [")); !errors.Is(err, ErrInvalidConfig) {
			t.Fatal("unexpected error", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadRunConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestRunConfigNewHosts(t *testing.T) {
	rc := Must1(ParseRunConfig([]byte(validRunConfig)))
	var saved []recordedCommand
	clients, servers, err := rc.NewHosts(&NullLogger{}, recordingRunner("", nil, &saved))
	if err != nil {
		t.Fatal(err)
	}
	names := func(hosts []Host) (out []string) {
		for _, host := range hosts {
			out = append(out, host.Name()+"="+host.IP())
		}
		return
	}
	if diff := cmp.Diff([]string{"h1=10.0.0.1", "h2=10.0.0.2"}, names(clients)); diff != "" {
		t.Fatal(diff)
	}
	if diff := cmp.Diff([]string{"h3=10.0.0.3"}, names(servers)); diff != "" {
		t.Fatal(diff)
	}

	// the PID selects the network namespace
	Must1(clients[0].Cmd("true"))
	if len(saved) != 1 || saved[0].Name != "mnexec" {
		t.Fatal("unexpected commands", saved)
	}
}

func TestRunConfigPlanAndGenerator(t *testing.T) {
	dir := t.TempDir()
	distributionPath := filepath.Join(dir, "distribution.csv")
	websitesPath := filepath.Join(dir, "websites.json")
	Must0(os.WriteFile(distributionPath, []byte("time_of_day,volume\n0,1\n"), 0600))
	Must0(os.WriteFile(websitesPath, []byte(`{"http_sites": ["www.example.com"]}`), 0600))

	rc := Must1(ParseRunConfig([]byte(validRunConfig)))
	rc.Traffic.Distribution = distributionPath
	rc.Traffic.Duration = 1
	rc.Traffic.TotalRequests = 10
	rc.Traffic.Websites = websitesPath
	Must0(rc.Validate())

	plan := Must1(rc.Plan(rand.New(rand.NewSource(1))))
	if diff := cmp.Diff([]PlannedRequests{{SimTime: 0, Count: 3}, {SimTime: 1.5, Count: 2}}, plan[:2]); diff != "" {
		t.Fatal(diff)
	}
	var sampled int
	for _, entry := range plan[2:] {
		sampled += entry.Count
	}
	if sampled != 10 {
		t.Fatal("unexpected number of sampled requests", sampled)
	}

	clients, servers := Must2(rc.NewHosts(&NullLogger{}, recordingRunner("", nil, &[]recordedCommand{})))
	tg := Must1(rc.NewTrafficGenerator(&NullLogger{}, clients, servers, rand.New(rand.NewSource(1))))
	if queue := tg.Generate(plan); queue.Size() != 15 {
		t.Fatal("unexpected number of tasks", queue.Size())
	}

	t.Run("missing list", func(t *testing.T) {
		rc.Traffic.Files = filepath.Join(dir, "missing.json")
		if _, err := rc.NewTrafficGenerator(&NullLogger{}, clients, servers, nil); err == nil {
			t.Fatal("expected an error")
		}
	})
}
