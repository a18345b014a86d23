package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/cadence/internal/tracereplay"
)

// Default configuration constants.
const (
	defaultReplayTimeout = 10 * time.Minute
)

func main() {
	defaults := tracereplay.DefaultConfig()
	var (
		gestures   = flag.Int("gestures", defaults.Gestures, "Number of gestures to generate")
		moves      = flag.Int("moves", defaults.MovesPerGesture, "Moves per gesture")
		concurrent = flag.Int("concurrent", defaults.Concurrent, "Contacts down at the same time")
		mode       = flag.String("mode", string(defaults.Mode), "Delivery mode: immediate or queued")
		coalesced  = flag.Bool("coalesced", defaults.Coalesced, "Attach coalesced sub-samples")
		predicted  = flag.Bool("predicted", defaults.Predicted, "Attach predicted sub-samples")
		zeroDelta  = flag.Float64("zero-delta", defaults.ZeroDeltaRate, "Share of moves repeated at the same timestamp")
		cancelRate = flag.Float64("cancel", defaults.CancelRate, "Share of gestures ending in a cancel")
		queueSize  = flag.Int("queue", defaults.MaxQueueSize, "Reducer queue capacity in queued mode")
		fps        = flag.Int("fps", defaults.TargetFPS, "Simulated display frame rate")
		seed       = flag.Uint64("seed", defaults.Seed, "Generator seed")
		inputFile  = flag.String("input", "", "Replay a saved trace instead of generating one")
		outputFile = flag.String("output", "", "Output file for the trace (default: trace_TIMESTAMP.json)")
		logFile    = flag.String("log", "", "Log file for replay output (default: replay_log_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		tracereplay.ShowHelp()
		return
	}

	// Setup logging
	if err := tracereplay.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), defaultReplayTimeout)
	defer cancel()

	config := &tracereplay.Config{
		Gestures:        *gestures,
		MovesPerGesture: *moves,
		Concurrent:      *concurrent,
		Mode:            tracereplay.Mode(*mode),
		Coalesced:       *coalesced,
		Predicted:       *predicted,
		ZeroDeltaRate:   *zeroDelta,
		CancelRate:      *cancelRate,
		MaxQueueSize:    *queueSize,
		TargetFPS:       *fps,
		Seed:            *seed,
		InputFile:       *inputFile,
		OutputFile:      *outputFile,
		LogFile:         *logFile,
		Verbose:         *verbose,
	}

	// Run the replay
	if _, err := tracereplay.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Replay failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1) //nolint:gocritic // cancel already called
	}
}
