// Package control implements the HTTP control server of a running
// traffic simulation.
package control

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/netsim-lab/trafficsim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Simulation is the simulation controlled by the server.
type Simulation interface {
	trafficsim.SimulationClock
	ID() string
	Report() *trafficsim.DispatchReport
	State() trafficsim.SimulationState
	Stop()
}

var _ Simulation = &trafficsim.Simulation{}

// Status is the JSON body returned by GET /status.
type Status struct {
	ID         string  `json:"id"`
	State      string  `json:"state"`
	Time       float64 `json:"time"`
	TimeOfDay  float64 `json:"timeOfDay"`
	Dispatched int     `json:"dispatched"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Pending    int     `json:"pending"`
	Buffered   int     `json:"buffered"`
	Logged     int     `json:"logged"`
}

// Config contains config for [NewHandler]. Make sure you initialize
// all the fields marked as MANDATORY.
type Config struct {
	// Buffer is the OPTIONAL capture buffer, used to report its depth.
	Buffer *trafficsim.CaptureBuffer

	// Gatherer is the OPTIONAL prometheus gatherer for GET /metrics.
	Gatherer prometheus.Gatherer

	// Logger is the MANDATORY logger.
	Logger trafficsim.Logger

	// PacketLogger is the OPTIONAL packet logger, used to report the
	// number of logged packets.
	PacketLogger *trafficsim.PacketLogger

	// Simulation is the MANDATORY simulation.
	Simulation Simulation
}

// NewHandler returns the [http.Handler] serving:
//
// - GET /status with the JSON [Status];
//
// - POST /stop stopping the simulation;
//
// - GET /metrics with the prometheus metrics, when Gatherer is set.
func NewHandler(config *Config) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		handleStatus(config, w)
	}).Methods(http.MethodGet)
	router.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		config.Logger.Infof("trafficsim: control: stop requested by %s", r.RemoteAddr)
		config.Simulation.Stop()
		w.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodPost)
	if config.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router
}

// handleStatus writes the current status.
func handleStatus(config *Config, w http.ResponseWriter) {
	sim := config.Simulation
	report := sim.Report()
	status := &Status{
		ID:         sim.ID(),
		State:      sim.State().String(),
		Time:       sim.Time(),
		TimeOfDay:  sim.TimeOfDay(),
		Dispatched: report.Dispatched,
		Succeeded:  report.Succeeded,
		Failed:     report.Failed,
		Pending:    report.Pending,
	}
	if config.Buffer != nil {
		status.Buffered = config.Buffer.Len()
	}
	if config.PacketLogger != nil {
		status.Logged = config.PacketLogger.Written()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		config.Logger.Warnf("trafficsim: control: cannot encode status: %s", err.Error())
	}
}
