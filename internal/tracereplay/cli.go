package tracereplay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/cadence/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string, verbose bool) error {
	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "replay_log_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	if err := logger.InitWithOutput(io.MultiWriter(os.Stdout, file)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		if err := logger.SetLevelString("debug"); err != nil {
			return fmt.Errorf("failed to set log level: %w", err)
		}
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the trace replay tool.
func ShowHelp() {
	os.Stdout.WriteString(`Cadence Trace Replay Tool
=========================

Generates synthetic pointer gestures, replays them through the input reducer
and the frame scheduler on a simulated display, and verifies the pipeline.

Usage:
  go run cmd/trace-replay/main.go [options]

Options:
  -gestures int
        Number of gestures to generate (default 200)
  -moves int
        Moves per gesture (default 40)
  -concurrent int
        Contacts down at the same time (default 3)
  -mode string
        Delivery mode: immediate or queued (default "immediate")
  -coalesced
        Attach coalesced sub-samples (default true)
  -predicted
        Attach predicted sub-samples (default true)
  -zero-delta float
        Share of moves repeated at the same timestamp (default 0.05)
  -cancel float
        Share of gestures ending in a cancel (default 0.1)
  -queue int
        Reducer queue capacity in queued mode (default 64)
  -fps int
        Simulated display frame rate (default 60)
  -seed uint
        Generator seed (default 1)
  -input string
        Replay a saved trace instead of generating one
  -output string
        Output file for the trace (default: trace_TIMESTAMP.json)
  -log string
        Log file for replay output (default: replay_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Replay with default settings
  go run cmd/trace-replay/main.go

  # Queued delivery with a small queue
  go run cmd/trace-replay/main.go -mode queued -queue 8 -concurrent 6

  # Replay a saved trace
  go run cmd/trace-replay/main.go -input trace_20240101_120000.json
`)
}
