package trafficsim

//
// Capture buffer
//

import "sync"

// CaptureBuffer is an unbounded FIFO of [PacketWrapper] between the
// packet capture callback and the [PacketLogger]. The zero value is
// invalid; use [NewCaptureBuffer] to instantiate.
type CaptureBuffer struct {
	// metrics contains the optional metrics.
	metrics *Metrics

	// mu protects queue and the depth gauge
	mu sync.Mutex

	// notify is posted each time a new packet is queued
	notify chan any

	// queue is the FIFO queue
	queue []*PacketWrapper
}

// NewCaptureBuffer creates a new empty [CaptureBuffer]. The metrics
// argument is OPTIONAL and may be nil.
func NewCaptureBuffer(metrics *Metrics) *CaptureBuffer {
	return &CaptureBuffer{
		metrics: metrics,
		mu:      sync.Mutex{},
		notify:  make(chan any, 1),
		queue:   []*PacketWrapper{},
	}
}

// Push appends a packet to the buffer. This function never blocks
// and never drops packets.
func (cb *CaptureBuffer) Push(pw *PacketWrapper) {
	cb.mu.Lock()
	cb.queue = append(cb.queue, pw)
	cb.metrics.setCaptureBufferDepth(len(cb.queue))
	cb.mu.Unlock()

	// coalesce notifications: one pending notification is enough
	select {
	case cb.notify <- true:
	default:
	}
}

// PopBatch removes and returns up to max packets in FIFO order. This
// function never blocks and returns an empty slice when the buffer is
// empty or max is not positive.
func (cb *CaptureBuffer) PopBatch(max int) []*PacketWrapper {
	cb.mu.Lock()
	count := len(cb.queue)
	if max < count {
		count = max
	}
	if count <= 0 {
		cb.mu.Unlock()
		return []*PacketWrapper{}
	}
	batch := append([]*PacketWrapper{}, cb.queue[:count]...) // copy
	for idx := 0; idx < count; idx++ {
		cb.queue[idx] = nil // allow GC
	}
	cb.queue = cb.queue[count:]
	cb.metrics.setCaptureBufferDepth(len(cb.queue))
	cb.mu.Unlock()
	return batch
}

// Len returns the number of buffered packets.
func (cb *CaptureBuffer) Len() int {
	defer cb.mu.Unlock()
	cb.mu.Lock()
	return len(cb.queue)
}

// Available returns a channel that becomes readable after a Push. The
// consumer should still PopBatch until empty, since notifications
// are coalesced.
func (cb *CaptureBuffer) Available() <-chan any {
	return cb.notify
}
