// Package monitoring holds the process-level logger shared by the field
// packages and the fieldctl binary.
package monitoring

import (
	"io"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// logWriter forwards each Write to Logf, one call per line.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			Logf("%s", line)
		}
	}
	return len(p), nil
}

// Writer returns an io.Writer that routes output through Logf. Pass it to
// a field package's SetLogWriters to merge that stream into the process log.
func Writer() io.Writer { return logWriter{} }
