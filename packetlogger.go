package trafficsim

//
// CSV packet logger
//

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrNoOutputPath indicates that the output file path is empty.
var ErrNoOutputPath = errors.New("trafficsim: output file path not specified")

// ErrCaptureFileExists indicates that the capture output file already exists.
var ErrCaptureFileExists = errors.New("trafficsim: capture file already exists")

// CaptureFilename returns the name of the CSV packet log for a capture
// session, which consists of the base name, the ISO-8601 timestamp, and
// the ".csv" extension. This function fails when base is empty or when
// the resulting file already exists.
func CaptureFilename(base string, now time.Time) (string, error) {
	if base == "" {
		return "", ErrNoOutputPath
	}
	filename := fmt.Sprintf("%s-%s.csv", base, now.Format("2006-01-02T15:04:05.000000"))
	if _, err := os.Stat(filename); err == nil {
		return "", fmt.Errorf("%w: %s", ErrCaptureFileExists, filename)
	}
	return filename, nil
}

// PacketLoggerConfig contains config for creating a [PacketLogger]. Make
// sure you initialize all the fields marked as MANDATORY.
type PacketLoggerConfig struct {
	// BatchSize is the OPTIONAL maximum number of packets we write
	// per batch. When zero, we write up to 100 packets per batch.
	BatchSize int

	// Buffer is the MANDATORY buffer from which we read packets.
	Buffer *CaptureBuffer

	// IdleRetry is the OPTIONAL maximum time we wait for new packets
	// when the buffer is empty. When zero, we wait 200 milliseconds.
	IdleRetry time.Duration

	// Logger is the MANDATORY logger.
	Logger Logger

	// Metrics contains the OPTIONAL prometheus metrics.
	Metrics *Metrics

	// WritePacing is the OPTIONAL delay after writing a batch, which
	// bounds the frequency of write syscalls. When zero, we wait 50
	// milliseconds. A negative value disables pacing.
	WritePacing time.Duration
}

// PacketLogger drains a [CaptureBuffer] in batches and appends them to a
// CSV file in a background goroutine. The zero value is invalid; use
// [NewPacketLogger] to instantiate.
type PacketLogger struct {
	// batchSize is the maximum batch size.
	batchSize int

	// buffer is the buffer to drain.
	buffer *CaptureBuffer

	// filep is the open CSV file.
	filep *os.File

	// idleRetry is the maximum wait when the buffer is empty.
	idleRetry time.Duration

	// joined is closed when the background goroutine has terminated.
	joined chan any

	// logger is the logger to use.
	logger Logger

	// metrics contains the optional metrics.
	metrics *Metrics

	// mu protects filep, path, started, and written.
	mu sync.Mutex

	// path is the CSV file path.
	path string

	// started indicates whether StartLog succeeded.
	started bool

	// stop is closed by StopLog.
	stop chan any

	// stopOnce provides "once" semantics for StopLog.
	stopOnce sync.Once

	// writePacing is the delay after each batch.
	writePacing time.Duration

	// written is the number of rows written.
	written int
}

// NewPacketLogger creates a new [PacketLogger]. Use [PacketLogger.StartLog]
// to open the output file and start the background goroutine.
func NewPacketLogger(config *PacketLoggerConfig) *PacketLogger {
	pl := &PacketLogger{
		batchSize:   config.BatchSize,
		buffer:      config.Buffer,
		filep:       nil,
		idleRetry:   config.IdleRetry,
		joined:      make(chan any),
		logger:      config.Logger,
		metrics:     config.Metrics,
		mu:          sync.Mutex{},
		stop:        make(chan any),
		stopOnce:    sync.Once{},
		writePacing: config.WritePacing,
	}
	if pl.batchSize <= 0 {
		pl.batchSize = 100
	}
	if pl.idleRetry <= 0 {
		pl.idleRetry = 200 * time.Millisecond
	}
	switch {
	case pl.writePacing == 0:
		pl.writePacing = 50 * time.Millisecond
	case pl.writePacing < 0:
		pl.writePacing = 0
	}
	return pl
}

// StartLog creates (or truncates) the CSV file at the given path, writes
// the header, and starts draining the buffer. On failure, we log the
// error and return it without starting the background goroutine.
func (pl *PacketLogger) StartLog(path string) error {
	defer pl.mu.Unlock()
	pl.mu.Lock()
	if pl.started {
		return ErrAlreadyStarted
	}
	if path == "" {
		pl.logger.Error("trafficsim: PacketLogger: network capture output file path not specified")
		return ErrNoOutputPath
	}

	filep, err := os.Create(path)
	if err != nil {
		pl.logger.Errorf("trafficsim: PacketLogger: error while opening %s: %s", path, err.Error())
		return err
	}
	if _, err := fmt.Fprintf(filep, "%s\n", PacketLogHeader); err != nil {
		pl.logger.Errorf("trafficsim: PacketLogger: error while writing %s: %s", path, err.Error())
		filep.Close()
		return err
	}
	pl.logger.Debugf("trafficsim: PacketLogger: %s created", path)

	pl.filep = filep
	pl.path = path
	pl.started = true
	go pl.loop(filep)
	return nil
}

// StopLog tells the background goroutine to write all the buffered
// packets and exit, waits for it, and closes the file. Calling StopLog
// more than once, or without a successful StartLog, is a no-op.
func (pl *PacketLogger) StopLog() {
	pl.mu.Lock()
	started := pl.started
	pl.mu.Unlock()
	if !started {
		return
	}
	pl.stopOnce.Do(func() {
		close(pl.stop)
		<-pl.joined
		pl.closeFile()
	})
}

// Written returns the number of packets written so far.
func (pl *PacketLogger) Written() int {
	defer pl.mu.Unlock()
	pl.mu.Lock()
	return pl.written
}

// closeFile closes the CSV file if it is open.
func (pl *PacketLogger) closeFile() {
	defer pl.mu.Unlock()
	pl.mu.Lock()
	if pl.filep == nil {
		return
	}
	if err := pl.filep.Close(); err != nil {
		pl.logger.Warnf("trafficsim: PacketLogger: filep.Close: %s", err.Error())
		// fallthrough
	}
	pl.filep = nil
	pl.logger.Debugf("trafficsim: PacketLogger: %s closed", pl.path)
}

// loop drains the buffer until we're stopped and the buffer is empty.
func (pl *PacketLogger) loop(filep *os.File) {
	// synchronize with StopLog
	defer close(pl.joined)

	w := bufio.NewWriter(filep)
	for {
		batch := pl.buffer.PopBatch(pl.batchSize)
		if len(batch) <= 0 {
			if pl.stopped() {
				return
			}
			pl.awaitPackets()
			continue
		}

		pl.writeBatch(w, batch)

		// bound the frequency of write syscalls
		if pl.writePacing > 0 {
			time.Sleep(pl.writePacing)
		}
	}
}

// stopped returns whether StopLog has been called.
func (pl *PacketLogger) stopped() bool {
	select {
	case <-pl.stop:
		return true
	default:
		return false
	}
}

// awaitPackets waits for new packets, for StopLog, or for the idle
// retry interval to expire, whichever comes first.
func (pl *PacketLogger) awaitPackets() {
	timer := time.NewTimer(pl.idleRetry)
	defer timer.Stop()
	select {
	case <-pl.stop:
	case <-pl.buffer.Available():
	case <-timer.C:
	}
}

// writeBatch writes a batch of packets. A write error is logged and
// does not stop the loop, so we keep trying with the next batches.
func (pl *PacketLogger) writeBatch(w *bufio.Writer, batch []*PacketWrapper) {
	for _, pw := range batch {
		if _, err := w.WriteString(pw.CSVRecord() + "\n"); err != nil {
			break // Flush will return the same error
		}
	}
	if err := w.Flush(); err != nil {
		pl.logger.Errorf("trafficsim: PacketLogger: cannot write %d packets: %s", len(batch), err.Error())
		pl.metrics.logWriteError()
		w.Reset(pl.currentFile())
		return
	}
	pl.mu.Lock()
	pl.written += len(batch)
	pl.mu.Unlock()
	pl.metrics.packetsLogged(len(batch))
}

// currentFile returns the open file.
func (pl *PacketLogger) currentFile() *os.File {
	defer pl.mu.Unlock()
	pl.mu.Lock()
	return pl.filep
}
