package trafficsim

//
// Capture handles
//

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapFileHandle is a [CaptureHandle] reading from a pcap or pcapng file.
type pcapFileHandle struct {
	// closeOnce provides "once" semantics for Close.
	closeOnce sync.Once

	// filep is the open file.
	filep *os.File

	// linkType is the link type declared by the file.
	linkType layers.LinkType

	// reader reads the next packet.
	reader gopacket.PacketDataSource
}

var _ CaptureHandle = &pcapFileHandle{}

// OpenPCAPFile opens a pcap or pcapng file for replaying the packets it
// contains through a [PacketSniffer]. The handle returns [io.EOF] when
// all the packets have been read. This function is a [CaptureOpener].
func OpenPCAPFile(path string) (CaptureHandle, error) {
	filep, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	// try with the classic pcap format first
	if r, err := pcapgo.NewReader(bufio.NewReader(filep)); err == nil {
		return &pcapFileHandle{filep: filep, linkType: r.LinkType(), reader: r}, nil
	}

	// then try with the pcapng format
	if _, err := filep.Seek(0, io.SeekStart); err != nil {
		filep.Close()
		return nil, err
	}
	r, err := pcapgo.NewNgReader(bufio.NewReader(filep), pcapgo.DefaultNgReaderOptions)
	if err != nil {
		filep.Close()
		return nil, fmt.Errorf("trafficsim: %s: not a pcap or pcapng file: %w", path, err)
	}
	return &pcapFileHandle{filep: filep, linkType: r.LinkType(), reader: r}, nil
}

// ReadPacketData implements CaptureHandle
func (fh *pcapFileHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return fh.reader.ReadPacketData()
}

// LinkType implements CaptureHandle
func (fh *pcapFileHandle) LinkType() layers.LinkType {
	return fh.linkType
}

// Close implements CaptureHandle
func (fh *pcapFileHandle) Close() (err error) {
	fh.closeOnce.Do(func() {
		err = fh.filep.Close()
	})
	return
}

// ErrCaptureHandleClosed indicates that a [MemoryCaptureHandle] is closed.
var ErrCaptureHandleClosed = errors.New("trafficsim: capture handle closed")

// memoryFrame is a frame queued by a [MemoryCaptureHandle].
type memoryFrame struct {
	data []byte
	ci   gopacket.CaptureInfo
}

// MemoryCaptureHandle is a [CaptureHandle] returning frames injected by
// the caller, which is useful to drive a [PacketSniffer] without a real
// network interface. Reads block until a frame is injected, until
// [MemoryCaptureHandle.CloseWrite] is called and all the frames have been
// read, or until the handle is closed. The zero value is invalid; use
// [NewMemoryCaptureHandle] to instantiate.
type MemoryCaptureHandle struct {
	// closeOnce provides "once" semantics for Close.
	closeOnce sync.Once

	// closed is closed by Close.
	closed chan any

	// frames contains the injected frames.
	frames chan *memoryFrame

	// linkType is the link type of the frames.
	linkType layers.LinkType

	// writeOnce provides "once" semantics for CloseWrite.
	writeOnce sync.Once
}

var _ CaptureHandle = &MemoryCaptureHandle{}

// NewMemoryCaptureHandle creates a new [MemoryCaptureHandle] that can
// queue up to capacity frames before Inject blocks.
func NewMemoryCaptureHandle(linkType layers.LinkType, capacity int) *MemoryCaptureHandle {
	return &MemoryCaptureHandle{
		closeOnce: sync.Once{},
		closed:    make(chan any),
		frames:    make(chan *memoryFrame, capacity),
		linkType:  linkType,
		writeOnce: sync.Once{},
	}
}

// Inject queues a frame captured at the given time. You MUST NOT call
// Inject after CloseWrite. This function returns [ErrCaptureHandleClosed]
// when the handle has been closed.
func (mh *MemoryCaptureHandle) Inject(data []byte, timestamp time.Time) error {
	frame := &memoryFrame{
		data: append([]byte{}, data...), // duplicate
		ci: gopacket.CaptureInfo{
			Timestamp:      timestamp,
			CaptureLength:  len(data),
			Length:         len(data),
			InterfaceIndex: 0,
		},
	}
	select {
	case <-mh.closed:
		return ErrCaptureHandleClosed
	case mh.frames <- frame:
		return nil
	}
}

// CloseWrite tells the handle that no more frames will be injected, so
// reads return [io.EOF] once the queue is empty.
func (mh *MemoryCaptureHandle) CloseWrite() {
	mh.writeOnce.Do(func() {
		close(mh.frames)
	})
}

// Pending returns the number of injected frames not read yet.
func (mh *MemoryCaptureHandle) Pending() int {
	return len(mh.frames)
}

// ReadPacketData implements CaptureHandle
func (mh *MemoryCaptureHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case <-mh.closed:
		return nil, gopacket.CaptureInfo{}, ErrCaptureHandleClosed
	case frame, good := <-mh.frames:
		if !good {
			return nil, gopacket.CaptureInfo{}, io.EOF
		}
		return frame.data, frame.ci, nil
	}
}

// LinkType implements CaptureHandle
func (mh *MemoryCaptureHandle) LinkType() layers.LinkType {
	return mh.linkType
}

// Close implements CaptureHandle
func (mh *MemoryCaptureHandle) Close() error {
	mh.closeOnce.Do(func() {
		close(mh.closed)
	})
	return nil
}
