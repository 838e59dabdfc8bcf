// Package testlogger provides a go-kit logger for tests.
package testlogger

import (
	"os"
	"testing"
	"time"

	"github.com/go-kit/log"
)

// New returns a new log.Logger bound to a test. Output goes to stderr in
// logfmt so that it interleaves with `go test -v` output.
func New(t testing.TB) log.Logger {
	t.Helper()

	l := log.NewSyncLogger(log.NewLogfmtLogger(os.Stderr))
	return log.With(l,
		"test", t.Name(),
		"ts", log.Valuer(clockTime),
	)
}

// clockTime drops the date and zone to keep test output short.
func clockTime() interface{} {
	return time.Now().UTC().Format("15:04:05.000")
}
