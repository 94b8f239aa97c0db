package trafficsim

//
// Live capture handles (Linux AF_PACKET)
//

import (
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// liveHandle is a [CaptureHandle] reading from a network interface.
type liveHandle struct {
	// closeOnce provides "once" semantics for Close.
	closeOnce sync.Once

	// handle is the AF_PACKET handle.
	handle *pcapgo.EthernetHandle
}

var _ CaptureHandle = &liveHandle{}

// OpenLiveInterface opens a live capture on the given network interface
// (e.g., "lo" or "s1-eth1") in promiscuous mode. This function requires
// the CAP_NET_RAW capability and is a [CaptureOpener].
func OpenLiveInterface(name string) (CaptureHandle, error) {
	handle, err := pcapgo.NewEthernetHandle(name)
	if err != nil {
		return nil, err
	}
	if err := handle.SetPromiscuous(true); err != nil {
		handle.Close()
		return nil, err
	}
	return &liveHandle{handle: handle}, nil
}

// ReadPacketData implements CaptureHandle
func (lh *liveHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return lh.handle.ReadPacketData()
}

// LinkType implements CaptureHandle
func (lh *liveHandle) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

// Close implements CaptureHandle
func (lh *liveHandle) Close() error {
	lh.closeOnce.Do(func() {
		lh.handle.Close()
	})
	return nil
}
