package trafficsim

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
)

// newTestWrapper returns a PacketWrapper identified by its virtual timestamp.
func newTestWrapper(idx int) *PacketWrapper {
	return &PacketWrapper{
		RealTimestamp:    1700000000 + float64(idx),
		VirtualTimestamp: float64(idx),
		TimeOfDay:        float64(idx),
		Protocols:        "eth:ip:udp",
		Length:           60 + idx,
		SrcIP:            "10.0.0.1",
		DstIP:            "10.0.0.2",
		SrcPort:          "40000",
		DstPort:          "9999",
	}
}

// virtualTimestamps returns the virtual timestamps of a batch.
func virtualTimestamps(batch []*PacketWrapper) (out []float64) {
	for _, pw := range batch {
		out = append(out, pw.VirtualTimestamp)
	}
	return
}

func TestCaptureBufferFIFO(t *testing.T) {
	cb := NewCaptureBuffer(nil)
	if batch := cb.PopBatch(10); len(batch) != 0 {
		t.Fatal("expected empty batch")
	}
	for idx := 0; idx < 5; idx++ {
		cb.Push(newTestWrapper(idx))
	}
	if cb.Len() != 5 {
		t.Fatal("unexpected length", cb.Len())
	}

	if diff := cmp.Diff([]float64{0, 1, 2}, virtualTimestamps(cb.PopBatch(3))); diff != "" {
		t.Fatal(diff)
	}
	if batch := cb.PopBatch(0); len(batch) != 0 {
		t.Fatal("expected empty batch with zero max")
	}
	if diff := cmp.Diff([]float64{3, 4}, virtualTimestamps(cb.PopBatch(100))); diff != "" {
		t.Fatal(diff)
	}
	if cb.Len() != 0 {
		t.Fatal("expected empty buffer")
	}
}

func TestCaptureBufferAvailable(t *testing.T) {
	cb := NewCaptureBuffer(nil)
	select {
	case <-cb.Available():
		t.Fatal("unexpected notification")
	default:
	}

	// many pushes are coalesced into a single notification
	cb.Push(newTestWrapper(0))
	cb.Push(newTestWrapper(1))
	<-cb.Available()
	select {
	case <-cb.Available():
		t.Fatal("notifications should be coalesced")
	default:
	}
}

func TestCaptureBufferConcurrentProducers(t *testing.T) {
	const producers, perProducer = 4, 500
	registry := prometheus.NewRegistry()
	cb := NewCaptureBuffer(NewMetrics(registry, "buffer-test"))
	wg := &sync.WaitGroup{}
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for idx := 0; idx < perProducer; idx++ {
				cb.Push(newTestWrapper(p*perProducer + idx))
			}
		}(p)
	}

	// drain while producers are running
	seen := map[float64]bool{}
	done := make(chan any)
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		for _, pw := range cb.PopBatch(64) {
			if seen[pw.VirtualTimestamp] {
				t.Fatal("duplicate packet", pw.VirtualTimestamp)
			}
			seen[pw.VirtualTimestamp] = true
		}
		select {
		case <-done:
			for _, pw := range cb.PopBatch(producers * perProducer) {
				seen[pw.VirtualTimestamp] = true
			}
			if len(seen) != producers*perProducer {
				t.Fatal("lost packets", len(seen))
			}
			if depth := gatherValue(t, registry, "trafficsim_capture_buffer_depth"); depth != 0 {
				t.Fatal("unexpected depth", depth)
			}
			return
		default:
		}
	}
}
