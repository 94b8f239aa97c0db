package trafficsim

//
// Data model
//

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Logger is the logger we're using.
type Logger interface {
	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Debug emits a debug message.
	Debug(message string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Info emits an informational message.
	Info(message string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)

	// Warn emits a warning message.
	Warn(message string)

	// Errorf formats and emits an error message.
	Errorf(format string, v ...any)

	// Error emits an error message.
	Error(message string)
}

// SimulationClock tells the current simulation time. The [Simulation]
// implements this interface and the [PacketSniffer] uses it to stamp
// each captured packet.
type SimulationClock interface {
	// Time returns the simulation time in seconds.
	Time() float64

	// TimeOfDay returns the simulated time of the day in seconds.
	TimeOfDay() float64
}

// CapturedPacket is what the capture pipeline needs to know about a
// packet. Use [DissectCapturedPacket] to obtain one from a gopacket packet.
type CapturedPacket interface {
	// HasIPLayer returns whether the packet carries an IPv4 or IPv6 layer.
	HasIPLayer() bool

	// Timestamp returns the capture-device timestamp.
	Timestamp() time.Time

	// Protocols returns the protocol stack summary (e.g., "eth:ip:tcp").
	Protocols() string

	// Length returns the original length of the packet in bytes.
	Length() int

	// SourceIPAddress returns the source IP address or "N/A".
	SourceIPAddress() string

	// DestinationIPAddress returns the destination IP address or "N/A".
	DestinationIPAddress() string

	// SourcePort returns the TCP or UDP source port or "N/A".
	SourcePort() string

	// DestinationPort returns the TCP or UDP destination port or "N/A".
	DestinationPort() string
}

// CaptureHandle is an open source of captured packets.
type CaptureHandle interface {
	// A CaptureHandle is a gopacket.PacketDataSource.
	gopacket.PacketDataSource

	// LinkType returns the link type of the captured frames.
	LinkType() layers.LinkType

	// Close closes the handle and unblocks pending reads.
	Close() error
}

// CaptureOpener opens a [CaptureHandle] given a source name, which is
// typically an interface name or the path of a pcap file.
type CaptureOpener func(name string) (CaptureHandle, error)

// Host is an emulated host from which we issue commands.
type Host interface {
	// Name returns the host name (e.g., "h1").
	Name() string

	// IP returns the host IP address.
	IP() string

	// Cmd runs a shell command on the host and returns its output.
	Cmd(command string) (string, error)
}
