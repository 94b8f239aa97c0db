package trafficsim

//
// Prometheus metrics
//

import "github.com/prometheus/client_golang/prometheus"

// Metrics contains the prometheus collectors updated by the scheduler
// and by the capture pipeline. A nil *Metrics is valid and does nothing,
// so components can always call its methods.
type Metrics struct {
	// TasksDispatched counts the tasks handed to an execution goroutine.
	TasksDispatched prometheus.Counter

	// TasksFailed counts the tasks whose callback failed or panicked.
	TasksFailed prometheus.Counter

	// SimulationTime is the current simulation clock in seconds.
	SimulationTime prometheus.Gauge

	// PacketsCaptured counts the IP packets pushed to the capture buffer.
	PacketsCaptured prometheus.Counter

	// PacketsIgnored counts the captured packets without an IP layer.
	PacketsIgnored prometheus.Counter

	// PacketsLogged counts the rows written to the CSV packet log.
	PacketsLogged prometheus.Counter

	// LogWriteErrors counts the failed CSV batch writes.
	LogWriteErrors prometheus.Counter

	// CaptureBufferDepth is the number of packets awaiting to be logged.
	CaptureBufferDepth prometheus.Gauge
}

// NewMetrics creates the collectors labeled with the given simulation
// ID and registers them with the given registerer. This function panics
// if registration fails, like [prometheus.MustRegister] does.
func NewMetrics(reg prometheus.Registerer, simulationID string) *Metrics {
	labels := prometheus.Labels{"simulationId": simulationID}
	m := &Metrics{
		TasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trafficsim_tasks_dispatched_total",
			Help:        "Total number of dispatched tasks",
			ConstLabels: labels,
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trafficsim_tasks_failed_total",
			Help:        "Total number of failed tasks",
			ConstLabels: labels,
		}),
		SimulationTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "trafficsim_simulation_time_seconds",
			Help:        "Current simulation clock",
			ConstLabels: labels,
		}),
		PacketsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trafficsim_packets_captured_total",
			Help:        "Total number of captured IP packets",
			ConstLabels: labels,
		}),
		PacketsIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trafficsim_packets_ignored_total",
			Help:        "Total number of captured packets without IP layer",
			ConstLabels: labels,
		}),
		PacketsLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trafficsim_packets_logged_total",
			Help:        "Total number of packets written to the packet log",
			ConstLabels: labels,
		}),
		LogWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trafficsim_log_write_errors_total",
			Help:        "Total number of failed packet log writes",
			ConstLabels: labels,
		}),
		CaptureBufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "trafficsim_capture_buffer_depth",
			Help:        "Number of captured packets waiting to be logged",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(
		m.TasksDispatched,
		m.TasksFailed,
		m.SimulationTime,
		m.PacketsCaptured,
		m.PacketsIgnored,
		m.PacketsLogged,
		m.LogWriteErrors,
		m.CaptureBufferDepth,
	)
	return m
}

func (m *Metrics) taskDispatched() {
	if m != nil {
		m.TasksDispatched.Inc()
	}
}

func (m *Metrics) taskFailed() {
	if m != nil {
		m.TasksFailed.Inc()
	}
}

func (m *Metrics) setSimulationTime(t float64) {
	if m != nil {
		m.SimulationTime.Set(t)
	}
}

func (m *Metrics) packetCaptured() {
	if m != nil {
		m.PacketsCaptured.Inc()
	}
}

func (m *Metrics) packetIgnored() {
	if m != nil {
		m.PacketsIgnored.Inc()
	}
}

func (m *Metrics) packetsLogged(count int) {
	if m != nil {
		m.PacketsLogged.Add(float64(count))
	}
}

func (m *Metrics) logWriteError() {
	if m != nil {
		m.LogWriteErrors.Inc()
	}
}

func (m *Metrics) setCaptureBufferDepth(depth int) {
	if m != nil {
		m.CaptureBufferDepth.Set(float64(depth))
	}
}
