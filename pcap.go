package trafficsim

//
// PCAP recorder
//

import (
	"context"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPRecorder stores the raw frames observed by a [PacketSniffer] into
// a PCAP file, next to the CSV packet log. The zero value is invalid; use
// [NewPCAPRecorder] to instantiate.
//
// Unlike the CSV packet log, the PCAP trace is best effort: when the
// background writer cannot keep up, we drop frames from the trace.
type PCAPRecorder struct {
	// cancel stops the background goroutine.
	cancel context.CancelFunc

	// closeOnce provides "once" semantics for close.
	closeOnce sync.Once

	// dropped counts the frames we could not record.
	dropped int

	// joined is closed when the background goroutine has terminated
	joined chan any

	// logger is the logger to use.
	logger Logger

	// mu protects dropped and recorded
	mu sync.Mutex

	// pic is the channel where we post frames to record
	pic chan *pcapRecorderFrameInfo

	// recorded counts the frames we have written.
	recorded int

	// snapLen is the maximum number of bytes we save per frame.
	snapLen int
}

// pcapRecorderFrameInfo contains info about a frame.
type pcapRecorderFrameInfo struct {
	ci       gopacket.CaptureInfo
	snapshot []byte
}

// PCAPRecorderConfig contains config for creating a [PCAPRecorder]. Make
// sure you initialize all the fields marked as MANDATORY.
type PCAPRecorderConfig struct {
	// Filename is the MANDATORY PCAP file name.
	Filename string

	// LinkType is the MANDATORY link type of the recorded frames.
	LinkType layers.LinkType

	// Logger is the MANDATORY logger.
	Logger Logger

	// SnapLen is the OPTIONAL maximum number of bytes we save per
	// frame. When zero, we save the first 256 bytes of each frame.
	SnapLen int
}

// NewPCAPRecorder creates a [PCAPRecorder]. This function creates a
// background goroutine for writing into the PCAP file. To join the
// goroutine, call [PCAPRecorder.Close].
func NewPCAPRecorder(config *PCAPRecorderConfig) *PCAPRecorder {
	const manyFrames = 4096
	ctx, cancel := context.WithCancel(context.Background())
	pr := &PCAPRecorder{
		cancel:    cancel,
		closeOnce: sync.Once{},
		joined:    make(chan any),
		logger:    config.Logger,
		mu:        sync.Mutex{},
		pic:       make(chan *pcapRecorderFrameInfo, manyFrames),
		snapLen:   config.SnapLen,
	}
	if pr.snapLen <= 0 {
		pr.snapLen = 256
	}
	go pr.loop(ctx, config.Filename, config.LinkType)
	return pr
}

// Record delivers a frame to the background writer. This function
// never blocks. The first snaplen bytes of data are copied, so the
// caller may reuse it.
func (pr *PCAPRecorder) Record(data []byte, ci gopacket.CaptureInfo) {
	ci.AncillaryData = nil
	if ci.Length <= 0 {
		ci.Length = len(data)
	}
	captureLength := len(data)
	if captureLength > pr.snapLen {
		captureLength = pr.snapLen
	}
	ci.CaptureLength = captureLength
	pinfo := &pcapRecorderFrameInfo{
		ci:       ci,
		snapshot: append([]byte{}, data[:captureLength]...), // duplicate
	}
	select {
	case pr.pic <- pinfo:
	default:
		// just drop from the capture
		pr.mu.Lock()
		pr.dropped++
		pr.mu.Unlock()
	}
}

// Stats returns the number of recorded and of dropped frames.
func (pr *PCAPRecorder) Stats() (recorded, dropped int) {
	defer pr.mu.Unlock()
	pr.mu.Lock()
	return pr.recorded, pr.dropped
}

// loop is the loop that writes pcaps
func (pr *PCAPRecorder) loop(ctx context.Context, filename string, linkType layers.LinkType) {
	// synchronize with parent
	defer close(pr.joined)

	// open the file where to create the pcap
	filep, err := os.Create(filename)
	if err != nil {
		pr.logger.Warnf("trafficsim: PCAPRecorder: os.Create: %s", err.Error())
		return
	}
	defer func() {
		if err := filep.Close(); err != nil {
			pr.logger.Warnf("trafficsim: PCAPRecorder: filep.Close: %s", err.Error())
			// fallthrough
		}
	}()

	// write the PCAP header
	w := pcapgo.NewWriter(filep)
	const largeSnapLen = 262144
	if err := w.WriteFileHeader(largeSnapLen, linkType); err != nil {
		pr.logger.Warnf("trafficsim: PCAPRecorder: w.WriteFileHeader: %s", err.Error())
		return
	}

	// loop until we're done and write each entry
	for {
		select {
		case <-ctx.Done():
			pr.drain(w)
			return
		case pinfo := <-pr.pic:
			pr.doWritePCAPEntry(pinfo, w)
		}
	}
}

// drain writes the frames still queued when we're closed.
func (pr *PCAPRecorder) drain(w *pcapgo.Writer) {
	for {
		select {
		case pinfo := <-pr.pic:
			pr.doWritePCAPEntry(pinfo, w)
		default:
			return
		}
	}
}

// doWritePCAPEntry writes the given frame entry into the PCAP file.
func (pr *PCAPRecorder) doWritePCAPEntry(pinfo *pcapRecorderFrameInfo, w *pcapgo.Writer) {
	if err := w.WritePacket(pinfo.ci, pinfo.snapshot); err != nil {
		pr.logger.Warnf("trafficsim: PCAPRecorder: w.WritePacket: %s", err.Error())
		return
	}
	pr.mu.Lock()
	pr.recorded++
	pr.mu.Unlock()
}

// Close stops the background writer after it has written all the frames
// queued so far, and closes the PCAP file.
func (pr *PCAPRecorder) Close() error {
	pr.closeOnce.Do(func() {
		// notify the background goroutine to terminate
		pr.cancel()

		// wait until the channel is drained
		pr.logger.Infof("trafficsim: PCAPRecorder: awaiting for background writer to finish writing")
		<-pr.joined
	})
	return nil
}
