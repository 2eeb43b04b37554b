package internal

import (
	"io"
	"log/slog"
	"os"
)

var testLogger *slog.Logger

func init() {
	testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	if os.Getenv("TASKCORE_TEST_LOG") == "1" {
		testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
}

// TestLogger returns a logger for tests. It writes debug logs to stdout when TASKCORE_TEST_LOG=1.
func TestLogger() *slog.Logger {
	return testLogger
}
