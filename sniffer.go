package trafficsim

//
// Packet sniffer
//

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
)

// PacketSnifferConfig contains config for creating a [PacketSniffer]. Make
// sure you initialize all the fields marked as MANDATORY.
type PacketSnifferConfig struct {
	// Buffer is the MANDATORY buffer where we push captured packets.
	Buffer *CaptureBuffer

	// Clock is the MANDATORY clock we use to stamp packets, which
	// typically is the running [Simulation].
	Clock SimulationClock

	// Logger is the MANDATORY logger.
	Logger Logger

	// Metrics contains the OPTIONAL prometheus metrics.
	Metrics *Metrics

	// Open is the OPTIONAL function opening the capture source. When
	// nil, we use [OpenLiveInterface].
	Open CaptureOpener

	// Recorder is the OPTIONAL recorder receiving all the raw frames.
	Recorder *PCAPRecorder
}

// PacketSniffer reads packets from a [CaptureHandle] in a background
// goroutine, stamps the IP packets with the simulation time, and pushes
// them into a [CaptureBuffer]. The zero value is invalid; use
// [NewPacketSniffer] to instantiate.
type PacketSniffer struct {
	// buffer is where we push packets.
	buffer *CaptureBuffer

	// clock stamps packets.
	clock SimulationClock

	// logger is the logger to use.
	logger Logger

	// metrics contains the optional metrics.
	metrics *Metrics

	// mu protects session.
	mu sync.Mutex

	// open opens the capture source.
	open CaptureOpener

	// recorder is the optional PCAP recorder.
	recorder *PCAPRecorder

	// session is the current capture session or nil.
	session *captureSession
}

// captureSession is a running capture.
type captureSession struct {
	// closeOnce provides "once" semantics for closing the handle.
	closeOnce sync.Once

	// handle is the capture handle.
	handle CaptureHandle

	// joined is closed when the capture goroutine has terminated.
	joined chan any

	// name is the name of the capture source.
	name string

	// stop is closed by StopCapture.
	stop chan any

	// stopOnce provides "once" semantics for closing stop.
	stopOnce sync.Once
}

// NewPacketSniffer creates a new [PacketSniffer].
func NewPacketSniffer(config *PacketSnifferConfig) *PacketSniffer {
	open := config.Open
	if open == nil {
		open = OpenLiveInterface
	}
	return &PacketSniffer{
		buffer:   config.Buffer,
		clock:    config.Clock,
		logger:   config.Logger,
		metrics:  config.Metrics,
		mu:       sync.Mutex{},
		open:     open,
		recorder: config.Recorder,
		session:  nil,
	}
}

// ErrNoCaptureSource indicates that the capture source name is empty.
var ErrNoCaptureSource = errors.New("trafficsim: capture source not specified")

// StartCapture opens the named capture source (e.g., an interface name or
// a pcap file, depending on the [CaptureOpener]) and starts capturing in
// a background goroutine. This function returns [ErrAlreadyStarted] when
// a capture is still running.
func (ps *PacketSniffer) StartCapture(name string) error {
	defer ps.mu.Unlock()
	ps.mu.Lock()
	if ps.session != nil && !ps.session.done() {
		return ErrAlreadyStarted
	}
	if name == "" {
		ps.logger.Error("trafficsim: PacketSniffer: network capture source not specified")
		return ErrNoCaptureSource
	}

	handle, err := ps.open(name)
	if err != nil {
		ps.logger.Errorf("trafficsim: PacketSniffer: cannot capture from %s: %s", name, err.Error())
		return err
	}

	ps.logger.Infof("trafficsim: PacketSniffer: listening to %s", name)
	session := &captureSession{
		closeOnce: sync.Once{},
		handle:    handle,
		joined:    make(chan any),
		name:      name,
		stop:      make(chan any),
		stopOnce:  sync.Once{},
	}
	ps.session = session
	go ps.loop(session)
	return nil
}

// StopCapture stops the running capture, unblocking any pending read,
// and waits for the background goroutine to terminate. Calling this
// function when no capture was started just logs a warning.
func (ps *PacketSniffer) StopCapture() {
	ps.mu.Lock()
	session := ps.session
	ps.session = nil
	ps.mu.Unlock()

	if session == nil {
		ps.logger.Warn("trafficsim: PacketSniffer: network capture not started")
		return
	}

	ps.logger.Infof("trafficsim: PacketSniffer: stopping capture from %s", session.name)
	session.stopOnce.Do(func() { close(session.stop) })
	session.closeHandle(ps.logger)
	<-session.joined
}

// Done returns a channel closed when the current capture terminates,
// which happens after StopCapture or when the source is exhausted (e.g.,
// at the end of a pcap file). We return nil when there is no capture,
// and reading from a nil channel blocks forever.
func (ps *PacketSniffer) Done() <-chan any {
	defer ps.mu.Unlock()
	ps.mu.Lock()
	if ps.session == nil {
		return nil
	}
	return ps.session.joined
}

// loop reads packets until the capture is stopped or the source fails.
func (ps *PacketSniffer) loop(session *captureSession) {
	// synchronize with StopCapture
	defer close(session.joined)

	// the handle is closed whatever the reason why we exit
	defer session.closeHandle(ps.logger)

	source := gopacket.NewPacketSource(session.handle, session.handle.LinkType())
	for {
		// a packet we have already read is never lost
		packet, err := source.NextPacket()
		if err == nil {
			ps.capture(packet)
			continue
		}
		if session.stopped() {
			return
		}
		if errors.Is(err, io.EOF) {
			ps.logger.Infof("trafficsim: PacketSniffer: end of capture from %s", session.name)
			return
		}
		ps.logger.Errorf("trafficsim: PacketSniffer: forced end of network capture: %s", err.Error())
		return
	}
}

// capture stamps an IP packet and pushes it into the buffer.
func (ps *PacketSniffer) capture(packet gopacket.Packet) {
	if ps.recorder != nil {
		ps.recorder.Record(packet.Data(), packet.Metadata().CaptureInfo)
	}
	if observer, good := ps.clock.(packetObserver); good {
		observer.Observe(packet.Metadata().Timestamp)
	}
	pw, err := NewPacketWrapper(DissectCapturedPacket(packet), ps.clock)
	if err != nil {
		ps.metrics.packetIgnored()
		return
	}
	ps.buffer.Push(pw)
	ps.metrics.packetCaptured()
}

// done returns whether the capture goroutine has terminated.
func (cs *captureSession) done() bool {
	select {
	case <-cs.joined:
		return true
	default:
		return false
	}
}

// stopped returns whether StopCapture has been called.
func (cs *captureSession) stopped() bool {
	select {
	case <-cs.stop:
		return true
	default:
		return false
	}
}

// closeHandle closes the capture handle once.
func (cs *captureSession) closeHandle(logger Logger) {
	cs.closeOnce.Do(func() {
		if err := cs.handle.Close(); err != nil {
			logger.Warnf("trafficsim: PacketSniffer: handle.Close: %s", err.Error())
		}
	})
}

// PacketClock is a [SimulationClock] driven by the timestamps of the
// captured packets, which is useful to replay a pcap file when there is
// no running [Simulation]. Time is the number of seconds since the first
// observed packet and TimeOfDay is the time of the day of the last
// observed packet. The zero value is ready to use.
type PacketClock struct {
	// first is the timestamp of the first packet.
	first time.Time

	// last is the timestamp of the last packet.
	last time.Time

	// mu protects first and last.
	mu sync.Mutex
}

var _ SimulationClock = &PacketClock{}

// Observe advances the clock to the given packet timestamp.
func (pc *PacketClock) Observe(timestamp time.Time) {
	defer pc.mu.Unlock()
	pc.mu.Lock()
	if pc.first.IsZero() {
		pc.first = timestamp
	}
	if timestamp.After(pc.last) {
		pc.last = timestamp
	}
}

// Time implements SimulationClock
func (pc *PacketClock) Time() float64 {
	defer pc.mu.Unlock()
	pc.mu.Lock()
	if pc.first.IsZero() {
		return 0
	}
	return pc.last.Sub(pc.first).Seconds()
}

// TimeOfDay implements SimulationClock
func (pc *PacketClock) TimeOfDay() float64 {
	_, tod := pc.now()
	return tod
}

var _ clockReader = &PacketClock{}

// now returns Time and TimeOfDay read under the same lock.
func (pc *PacketClock) now() (t, tod float64) {
	defer pc.mu.Unlock()
	pc.mu.Lock()
	if pc.first.IsZero() {
		return 0, 0
	}
	midnight := time.Date(pc.last.Year(), pc.last.Month(), pc.last.Day(), 0, 0, 0, 0, pc.last.Location())
	return pc.last.Sub(pc.first).Seconds(), pc.last.Sub(midnight).Seconds()
}

// packetObserver is a clock that wants to observe packet timestamps.
type packetObserver interface {
	Observe(timestamp time.Time)
}
