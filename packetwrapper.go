package trafficsim

//
// Packet log records
//

import (
	"fmt"
	"strconv"
)

// PacketLogHeader is the header of the CSV packet log.
const PacketLogHeader = "virtual_timestamp,time_of_day,real_timestamp,protocols,src_ip,dst_ip,src_port,dst_port,length"

// PacketWrapper is the normalized record of a captured IP packet along
// with the simulation time at which we observed it. The zero value is
// invalid; use [NewPacketWrapper] to instantiate.
type PacketWrapper struct {
	// RealTimestamp is the capture-device clock in seconds since the epoch.
	RealTimestamp float64

	// VirtualTimestamp is the simulation clock at capture time.
	VirtualTimestamp float64

	// TimeOfDay is the simulated time of the day at capture time.
	TimeOfDay float64

	// Protocols is the protocol stack summary (e.g., "eth:ip:tcp").
	Protocols string

	// Length is the packet length in bytes.
	Length int

	// SrcIP is the source IP address or "N/A".
	SrcIP string

	// DstIP is the destination IP address or "N/A".
	DstIP string

	// SrcPort is the source port or "N/A".
	SrcPort string

	// DstPort is the destination port or "N/A".
	DstPort string
}

// NewPacketWrapper extracts a [PacketWrapper] from a captured packet.
// This function returns [ErrDissectNetwork] when the packet does not
// carry an IP layer, since we only log IP packets.
func NewPacketWrapper(packet CapturedPacket, clock SimulationClock) (*PacketWrapper, error) {
	if !packet.HasIPLayer() {
		return nil, ErrDissectNetwork
	}
	ts := packet.Timestamp()
	now, tod := readClock(clock)
	pw := &PacketWrapper{
		RealTimestamp:    float64(ts.UnixNano()) / 1e09,
		VirtualTimestamp: now,
		TimeOfDay:        tod,
		Protocols:        packet.Protocols(),
		Length:           packet.Length(),
		SrcIP:            packet.SourceIPAddress(),
		DstIP:            packet.DestinationIPAddress(),
		SrcPort:          packet.SourcePort(),
		DstPort:          packet.DestinationPort(),
	}
	return pw, nil
}

// clockReader is a clock that can read both values atomically.
type clockReader interface {
	now() (t, tod float64)
}

// readClock returns the time and the time of the day of the clock, which
// are consistent with each other when the clock is a clockReader.
func readClock(clock SimulationClock) (t, tod float64) {
	if cr, good := clock.(clockReader); good {
		return cr.now()
	}
	return clock.Time(), clock.TimeOfDay()
}

// CSVRecord returns the packet log CSV row without the trailing newline.
func (pw *PacketWrapper) CSVRecord() string {
	return fmt.Sprintf(
		"%.4f,%.4f,%s,%s,%s,%s,%s,%s,%d",
		pw.VirtualTimestamp,
		pw.TimeOfDay,
		strconv.FormatFloat(pw.RealTimestamp, 'f', 6, 64),
		pw.Protocols,
		pw.SrcIP,
		pw.DstIP,
		pw.SrcPort,
		pw.DstPort,
		pw.Length,
	)
}
