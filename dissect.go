package trafficsim

//
// Protocol dissector
//

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// NotApplicable is the value of fields that do not apply to a packet.
const NotApplicable = "N/A"

// DissectedPacket is a dissected captured packet. The zero-value is
// invalid; you MUST use the [DissectCapturedPacket] factory to create a
// new instance.
type DissectedPacket struct {
	// Packet is the underlying packet.
	Packet gopacket.Packet

	// IP is the POSSIBLY NIL network layer (either IPv4 or IPv6).
	IP gopacket.NetworkLayer

	// TCP is the POSSIBLY NIL tcp layer.
	TCP *layers.TCP

	// UDP is the POSSIBLY NIL UDP layer.
	UDP *layers.UDP
}

var _ CapturedPacket = &DissectedPacket{}

// ErrDissectShortPacket indicates the packet is too short.
var ErrDissectShortPacket = errors.New("trafficsim: dissect: packet too short")

// ErrDissectNetwork indicates that the packet does not have an IP layer.
var ErrDissectNetwork = errors.New("trafficsim: dissect: no IP layer")

// DissectCapturedPacket inspects the TCP/IP layers of a captured packet.
// Unlike [DissectRawFrame], this function does not fail when the packet
// lacks an IP layer: use [DissectedPacket.HasIPLayer] to filter.
func DissectCapturedPacket(packet gopacket.Packet) *DissectedPacket {
	dp := &DissectedPacket{Packet: packet}
	switch v := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		dp.IP = v
	case *layers.IPv6:
		dp.IP = v
	}
	if tcp, good := packet.Layer(layers.LayerTypeTCP).(*layers.TCP); good {
		dp.TCP = tcp
	}
	if udp, good := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); good {
		dp.UDP = udp
	}
	return dp
}

// DissectRawFrame decodes a raw frame with the given link type and returns
// the [DissectedPacket] or an error when the frame has no IP layer.
func DissectRawFrame(rawFrame []byte, linkType layers.LinkType, ci gopacket.CaptureInfo) (*DissectedPacket, error) {
	if len(rawFrame) < 1 {
		return nil, ErrDissectShortPacket
	}
	packet := gopacket.NewPacket(rawFrame, linkType, gopacket.Default)
	md := packet.Metadata()
	md.CaptureInfo = ci
	if md.Length == 0 {
		md.Length = len(rawFrame)
	}
	dp := DissectCapturedPacket(packet)
	if !dp.HasIPLayer() {
		return nil, ErrDissectNetwork
	}
	return dp, nil
}

// HasIPLayer implements CapturedPacket
func (dp *DissectedPacket) HasIPLayer() bool {
	return dp.IP != nil
}

// Timestamp implements CapturedPacket
func (dp *DissectedPacket) Timestamp() time.Time {
	return dp.Packet.Metadata().Timestamp
}

// Length implements CapturedPacket
func (dp *DissectedPacket) Length() int {
	if length := dp.Packet.Metadata().Length; length > 0 {
		return length
	}
	return len(dp.Packet.Data())
}

// Protocols implements CapturedPacket
func (dp *DissectedPacket) Protocols() string {
	var names []string
	for _, layer := range dp.Packet.Layers() {
		if name := protocolName(layer.LayerType()); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ":")
}

// protocolName maps a gopacket layer type to a short protocol name. We
// return an empty string for layers we should not mention.
func protocolName(lt gopacket.LayerType) string {
	switch lt {
	case layers.LayerTypeEthernet:
		return "eth"
	case layers.LayerTypeLinuxSLL:
		return "sll"
	case layers.LayerTypeLoopback:
		return "null"
	case layers.LayerTypeDot1Q:
		return "vlan"
	case layers.LayerTypeARP:
		return "arp"
	case layers.LayerTypeIPv4:
		return "ip"
	case layers.LayerTypeIPv6:
		return "ipv6"
	case layers.LayerTypeICMPv4:
		return "icmp"
	case layers.LayerTypeICMPv6:
		return "icmpv6"
	case layers.LayerTypeTCP:
		return "tcp"
	case layers.LayerTypeUDP:
		return "udp"
	case layers.LayerTypeDNS:
		return "dns"
	case gopacket.LayerTypePayload:
		return "data"
	case gopacket.LayerTypeDecodeFailure:
		return ""
	default:
		return strings.ToLower(lt.String())
	}
}

// DestinationIPAddress implements CapturedPacket
func (dp *DissectedPacket) DestinationIPAddress() string {
	switch v := dp.IP.(type) {
	case *layers.IPv4:
		return v.DstIP.String()
	case *layers.IPv6:
		return v.DstIP.String()
	default:
		return NotApplicable
	}
}

// SourceIPAddress implements CapturedPacket
func (dp *DissectedPacket) SourceIPAddress() string {
	switch v := dp.IP.(type) {
	case *layers.IPv4:
		return v.SrcIP.String()
	case *layers.IPv6:
		return v.SrcIP.String()
	default:
		return NotApplicable
	}
}

// SourcePort implements CapturedPacket
func (dp *DissectedPacket) SourcePort() string {
	switch {
	case dp.TCP != nil:
		return strconv.Itoa(int(dp.TCP.SrcPort))
	case dp.UDP != nil:
		return strconv.Itoa(int(dp.UDP.SrcPort))
	default:
		return NotApplicable
	}
}

// DestinationPort implements CapturedPacket
func (dp *DissectedPacket) DestinationPort() string {
	switch {
	case dp.TCP != nil:
		return strconv.Itoa(int(dp.TCP.DstPort))
	case dp.UDP != nil:
		return strconv.Itoa(int(dp.UDP.DstPort))
	default:
		return NotApplicable
	}
}

// TransportProtocol returns the packet's transport protocol.
func (dp *DissectedPacket) TransportProtocol() layers.IPProtocol {
	switch v := dp.IP.(type) {
	case *layers.IPv4:
		return v.Protocol
	case *layers.IPv6:
		return v.NextHeader
	default:
		return layers.IPProtocolNoNextHeader
	}
}
