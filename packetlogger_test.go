package trafficsim

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
)

// readLines reads a file and returns its lines.
func readLines(t *testing.T, path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

// expectedLog returns the expected CSV log for the given wrappers.
func expectedLog(wrappers []*PacketWrapper) []string {
	lines := []string{PacketLogHeader}
	for _, pw := range wrappers {
		lines = append(lines, pw.CSVRecord())
	}
	return lines
}

func TestPacketLoggerWritesAllPacketsOnStop(t *testing.T) {
	const count = 250
	path := filepath.Join(t.TempDir(), "capture.csv")
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry, "logger-test")
	buffer := NewCaptureBuffer(metrics)
	var wrappers []*PacketWrapper
	for idx := 0; idx < count; idx++ {
		pw := newTestWrapper(idx)
		wrappers = append(wrappers, pw)
		buffer.Push(pw)
	}

	pl := NewPacketLogger(&PacketLoggerConfig{
		BatchSize: 100,
		Buffer:    buffer,
		Logger:    &NullLogger{},
		Metrics:   metrics,
	})
	if err := pl.StartLog(path); err != nil {
		t.Fatal(err)
	}
	pl.StopLog()

	if diff := cmp.Diff(expectedLog(wrappers), readLines(t, path)); diff != "" {
		t.Fatal(diff)
	}
	if pl.Written() != count {
		t.Fatal("unexpected written count", pl.Written())
	}
	if logged := gatherValue(t, registry, "trafficsim_packets_logged_total"); logged != count {
		t.Fatal("unexpected logged metric", logged)
	}
	if buffer.Len() != 0 {
		t.Fatal("expected empty buffer")
	}
}

func TestPacketLoggerWhileCapturing(t *testing.T) {
	const count = 120
	path := filepath.Join(t.TempDir(), "capture.csv")
	buffer := NewCaptureBuffer(nil)
	pl := NewPacketLogger(&PacketLoggerConfig{
		BatchSize:   7,
		Buffer:      buffer,
		IdleRetry:   5 * time.Millisecond,
		Logger:      &NullLogger{},
		WritePacing: time.Millisecond,
	})
	if err := pl.StartLog(path); err != nil {
		t.Fatal(err)
	}

	var wrappers []*PacketWrapper
	for idx := 0; idx < count; idx++ {
		pw := newTestWrapper(idx)
		wrappers = append(wrappers, pw)
		buffer.Push(pw)
		if idx%10 == 0 {
			time.Sleep(2 * time.Millisecond)
		}
	}
	pl.StopLog()

	if diff := cmp.Diff(expectedLog(wrappers), readLines(t, path)); diff != "" {
		t.Fatal(diff)
	}
}

func TestPacketLoggerHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.csv")
	pl := NewPacketLogger(&PacketLoggerConfig{
		Buffer: NewCaptureBuffer(nil),
		Logger: &NullLogger{},
	})
	Must0(pl.StartLog(path))
	pl.StopLog()
	pl.StopLog() // idempotent
	if diff := cmp.Diff([]string{PacketLogHeader}, readLines(t, path)); diff != "" {
		t.Fatal(diff)
	}
}

// awaitMetric waits for the named metric to reach at least value.
func awaitMetric(t *testing.T, registry *prometheus.Registry, name string, value float64) {
	deadline := time.Now().Add(5 * time.Second)
	for gatherValue(t, registry, name) < value {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for", name)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPacketLoggerWriteErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.csv")
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry, "logger-test")
	buffer := NewCaptureBuffer(metrics)
	logger, handler := newMemoryLogger()
	pl := NewPacketLogger(&PacketLoggerConfig{
		Buffer:      buffer,
		IdleRetry:   5 * time.Millisecond,
		Logger:      logger,
		Metrics:     metrics,
		WritePacing: -1,
	})
	Must0(pl.StartLog(path))

	// make every following write fail
	Must0(pl.currentFile().Close())

	// the loop survives the failure and keeps trying with the next batches
	buffer.Push(newTestWrapper(0))
	awaitMetric(t, registry, "trafficsim_log_write_errors_total", 1)
	buffer.Push(newTestWrapper(1))
	awaitMetric(t, registry, "trafficsim_log_write_errors_total", 2)

	pl.StopLog()
	if pl.Written() != 0 {
		t.Fatal("unexpected written count", pl.Written())
	}
	if diff := cmp.Diff([]string{PacketLogHeader}, readLines(t, path)); diff != "" {
		t.Fatal(diff)
	}
	if count := countEntries(handler, log.ErrorLevel, "cannot write 1 packets"); count != 2 {
		t.Fatal("unexpected number of write errors", count)
	}
	if buffer.Len() != 0 {
		t.Fatal("expected empty buffer")
	}
}

func TestPacketLoggerStartErrors(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		logger, handler := newMemoryLogger()
		pl := NewPacketLogger(&PacketLoggerConfig{
			Buffer: NewCaptureBuffer(nil),
			Logger: logger,
		})
		if err := pl.StartLog(""); !errors.Is(err, ErrNoOutputPath) {
			t.Fatal("unexpected error", err)
		}
		if countEntries(handler, log.ErrorLevel, "output file path not specified") != 1 {
			t.Fatal("expected an error log entry")
		}
		pl.StopLog() // no-op
	})

	t.Run("cannot open the file", func(t *testing.T) {
		logger, handler := newMemoryLogger()
		pl := NewPacketLogger(&PacketLoggerConfig{
			Buffer: NewCaptureBuffer(nil),
			Logger: logger,
		})
		path := filepath.Join(t.TempDir(), "nonexistent", "capture.csv")
		if err := pl.StartLog(path); err == nil {
			t.Fatal("expected an error")
		}
		if countEntries(handler, log.ErrorLevel, "error while opening") != 1 {
			t.Fatal("expected an error log entry")
		}
		pl.StopLog() // no-op
	})

	t.Run("started twice", func(t *testing.T) {
		pl := NewPacketLogger(&PacketLoggerConfig{
			Buffer: NewCaptureBuffer(nil),
			Logger: &NullLogger{},
		})
		path := filepath.Join(t.TempDir(), "capture.csv")
		Must0(pl.StartLog(path))
		defer pl.StopLog()
		if err := pl.StartLog(path); !errors.Is(err, ErrAlreadyStarted) {
			t.Fatal("unexpected error", err)
		}
	})
}

func TestCaptureFilename(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 20, 30, 123456000, time.UTC)

	t.Run("empty base", func(t *testing.T) {
		if _, err := CaptureFilename("", now); !errors.Is(err, ErrNoOutputPath) {
			t.Fatal("unexpected error", err)
		}
	})

	t.Run("new file", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "run")
		got, err := CaptureFilename(base, now)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(base+"-2024-03-15T10:20:30.123456.csv", got); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("existing file", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "run")
		existing := base + "-2024-03-15T10:20:30.123456.csv"
		Must0(os.WriteFile(existing, []byte("x"), 0600))
		if _, err := CaptureFilename(base, now); !errors.Is(err, ErrCaptureFileExists) {
			t.Fatal("unexpected error", err)
		}
	})
}
