// Command trafficsim replays a schedule of HTTP and FTP requests from
// emulated hosts while capturing the traffic into a CSV packet log.
package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/google/gopacket/layers"
	"github.com/google/uuid"
	"github.com/netsim-lab/trafficsim"
	"github.com/netsim-lab/trafficsim/cmd/internal/control"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var (
	// configFlag is the path of the YAML run profile.
	configFlag = flag.String("config", "trafficsim.yaml", "path of the YAML run profile")

	// controlFlag overrides the control server endpoint.
	controlFlag = flag.String("control", "", "control server endpoint (e.g., 127.0.0.1:9090)")

	// verboseFlag enables debug logging.
	verboseFlag = flag.Bool("verbose", false, "enable debug logging")
)

func main() {
	flag.Parse()

	log.SetHandler(cli.Default)
	if *verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	rc, err := trafficsim.LoadRunConfig(*configFlag)
	if err != nil {
		log.WithError(err).Fatal("trafficsim.LoadRunConfig")
	}
	if *controlFlag != "" {
		rc.Control.Listen = *controlFlag
	}
	log.Debugf("trafficsim: run profile:\n%s", rc.Dumps())

	// Ctrl-C stops the simulation and we then stop capturing normally
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := &runDeps{
		logger: log.Log,
		now:    time.Now,
		open:   trafficsim.OpenLiveInterface,
		runner: trafficsim.ExecCommandRunner,
	}
	report, err := run(ctx, rc, deps)
	if err != nil {
		log.WithError(err).Fatal("trafficsim")
	}
	log.WithFields(log.Fields{
		"id":         report.ID,
		"dispatched": report.Dispatched,
		"succeeded":  report.Succeeded,
		"failed":     report.Failed,
		"pending":    report.Pending,
		"medianLag":  report.MedianLag,
		"p95Lag":     report.P95Lag,
		"maxLag":     report.MaxLag,
	}).Info("trafficsim: simulation report")
}

// runDeps contains the dependencies of run.
type runDeps struct {
	// logger is the logger to use.
	logger trafficsim.Logger

	// now returns the current time.
	now func() time.Time

	// open opens the capture source.
	open trafficsim.CaptureOpener

	// runner runs the commands on the hosts.
	runner trafficsim.CommandRunner
}

// run runs the simulation described by the run profile and returns the
// dispatch report. The capture starts before the simulation and stops
// after the simulation has completed or ctx has been canceled.
func run(ctx context.Context, rc *trafficsim.RunConfig, deps *runDeps) (*trafficsim.DispatchReport, error) {
	logger := deps.logger

	// create the metrics of this run
	id := trafficsim.Must1(uuid.NewRandom()).String()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := trafficsim.NewMetrics(registry, id)

	// create the tasks
	seed := rc.Simulation.Seed
	if seed == 0 {
		seed = deps.now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))
	clients, servers, err := rc.NewHosts(logger, deps.runner)
	if err != nil {
		return nil, err
	}
	generator, err := rc.NewTrafficGenerator(logger, clients, servers, rnd)
	if err != nil {
		return nil, err
	}
	plan, err := rc.Plan(rnd)
	if err != nil {
		return nil, err
	}
	queue := generator.Generate(plan)
	logger.Infof("trafficsim: scheduled %d tasks", queue.Size())

	sim := trafficsim.NewSimulation(&trafficsim.SimulationConfig{
		ID:             id,
		Logger:         logger,
		Metrics:        metrics,
		PacingDelay:    rc.Simulation.PacingDelay,
		Queue:          queue,
		RealTime:       rc.Simulation.RealTime,
		StartTimeOfDay: rc.Simulation.StartTimeOfDay,
	})

	// create the capture pipeline
	filename, err := trafficsim.CaptureFilename(rc.Capture.Output, deps.now())
	if err != nil {
		return nil, err
	}
	buffer := trafficsim.NewCaptureBuffer(metrics)
	packetLogger := trafficsim.NewPacketLogger(&trafficsim.PacketLoggerConfig{
		BatchSize: rc.Capture.BatchSize,
		Buffer:    buffer,
		Logger:    logger,
		Metrics:   metrics,
	})
	var recorder *trafficsim.PCAPRecorder
	if rc.Capture.PCAP != "" {
		recorder = trafficsim.NewPCAPRecorder(&trafficsim.PCAPRecorderConfig{
			Filename: rc.Capture.PCAP,
			LinkType: layers.LinkTypeEthernet,
			Logger:   logger,
		})
		defer recorder.Close()
	}
	sniffer := trafficsim.NewPacketSniffer(&trafficsim.PacketSnifferConfig{
		Buffer:   buffer,
		Clock:    sim,
		Logger:   logger,
		Metrics:  metrics,
		Open:     deps.open,
		Recorder: recorder,
	})

	// start the control server
	if rc.Control.Listen != "" {
		handler := control.NewHandler(&control.Config{
			Buffer:       buffer,
			Gatherer:     registry,
			Logger:       logger,
			PacketLogger: packetLogger,
			Simulation:   sim,
		})
		// also accept HTTP/2 without TLS (h2c) clients
		server := &http.Server{
			Addr:              rc.Control.Listen,
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Infof("trafficsim: control server listening at %s", rc.Control.Listen)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Warnf("trafficsim: control server: %s", err.Error())
			}
		}()
		defer server.Close()
	}

	// start logging and capturing before running any task
	logger.Infof("trafficsim: starting file capture to %s", filename)
	if err := packetLogger.StartLog(filename); err != nil {
		return nil, err
	}
	if err := sniffer.StartCapture(rc.Capture.Interface); err != nil {
		packetLogger.StopLog()
		return nil, err
	}

	// run the simulation until completion, timeout, or signal
	if err := sim.Start(); err != nil {
		sniffer.StopCapture()
		packetLogger.StopLog()
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			logger.Warn("trafficsim: interrupted, stopping the simulation")
			sim.Stop()
		case <-sim.Done():
		}
	}()
	waitCtx := context.Background()
	if rc.Simulation.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, rc.Simulation.Timeout)
		defer cancel()
	}

	// wait for the loop to run out of tasks, then for the running tasks
	select {
	case <-sim.Done():
		err = sim.WaitForCompletion(waitCtx)
	case <-waitCtx.Done():
		err = waitCtx.Err()
	}
	if err != nil {
		logger.Warnf("trafficsim: not all the tasks have completed: %s", err.Error())
		sim.Stop()
	}

	// stop capturing first so the logger writes all the packets
	sniffer.StopCapture()
	packetLogger.StopLog()
	logger.Infof("trafficsim: written %d packets to %s", packetLogger.Written(), filename)

	return sim.Report(), nil
}
