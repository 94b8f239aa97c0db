package trafficsim

//
// Logging helpers
//

import "fmt"

// NullLogger is a [Logger] that does not emit logs.
type NullLogger struct{}

// Debug implements Logger
func (nl *NullLogger) Debug(message string) {
	// nothing
}

// Debugf implements Logger
func (nl *NullLogger) Debugf(format string, v ...any) {
	// nothing
}

// Info implements Logger
func (nl *NullLogger) Info(message string) {
	// nothing
}

// Infof implements Logger
func (nl *NullLogger) Infof(format string, v ...any) {
	// nothing
}

// Warn implements Logger
func (nl *NullLogger) Warn(message string) {
	// nothing
}

// Warnf implements Logger
func (nl *NullLogger) Warnf(format string, v ...any) {
	// nothing
}

// Error implements Logger
func (nl *NullLogger) Error(message string) {
	// nothing
}

// Errorf implements Logger
func (nl *NullLogger) Errorf(format string, v ...any) {
	// nothing
}

var _ Logger = &NullLogger{}

// FormatSimulationTime formats a simulation time in seconds as "[MM:SS.ss]".
func FormatSimulationTime(t float64) string {
	if t < 0 {
		t = 0
	}
	minutes := int(t / 60)
	seconds := t - float64(minutes*60)
	return fmt.Sprintf("[%02d:%05.2f]", minutes, seconds)
}
