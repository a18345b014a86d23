package tracereplay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/cadence/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	traceFilePermission = 0600
)

// Run generates (or loads) a trace, replays it through the input pipeline,
// verifies the result and saves the trace.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	stats := &Stats{
		StartTime: time.Now(),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger.Get().Info(ctx, "starting cadence trace replay",
		logger.String("mode", string(config.Mode)),
		logger.Int("gestures", config.Gestures),
		logger.Int("movesPerGesture", config.MovesPerGesture),
		logger.Int("targetFps", config.TargetFPS),
		logger.Bool("coalesced", config.Coalesced),
		logger.Bool("predicted", config.Predicted),
		logger.String("inputFile", config.InputFile),
		logger.String("logFile", config.LogFile),
		logger.Any("verbose", config.Verbose))

	// Step 1: Build the trace
	var (
		trace *Trace
		err   error
	)
	if config.InputFile != "" {
		trace, err = LoadTrace(config.InputFile)
		if err == nil {
			stats.GesturesGenerated = trace.Gestures
			stats.EventsGenerated = len(trace.Events)
		}
	} else {
		trace, err = generateTrace(ctx, config, stats)
	}
	if err != nil {
		return nil, fmt.Errorf("trace preparation failed: %w", err)
	}

	// Step 2: Replay
	res, err := replay(ctx, config, trace)
	if err != nil {
		return nil, fmt.Errorf("replay failed: %w", err)
	}
	collectStats(res, stats)

	// Step 3: Verify
	if err := verifyReplay(ctx, config, res); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	// Step 4: Save the trace, unless it was loaded from disk
	if config.InputFile == "" {
		if err := saveTrace(ctx, config, trace); err != nil {
			logger.Get().Warn(ctx, "failed to save trace to file", logger.Error(err))
		}
	}

	// Final statistics
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(stats)

	logger.Get().Info(ctx, "replay completed successfully")
	return stats, nil
}

func collectStats(res *result, stats *Stats) {
	stats.EventsReplayed = res.EventsReplayed
	stats.Notifications = res.Notifications
	stats.Frames = res.Scheduler.TotalFrames
	stats.DroppedFrames = res.Scheduler.DroppedFrames
	stats.SamplerRuns = res.SamplerRuns
	stats.EventsProcessed = res.Reducer.EventsProcessed
	stats.CoalescedEventsUsed = res.Reducer.CoalescedEventsUsed
	stats.PredictedEventsUsed = res.Reducer.PredictedEventsUsed
	stats.EventsQueued = res.Reducer.EventsQueued
	stats.EventsEvicted = res.Reducer.EventsEvicted
	stats.EventsExpired = res.Reducer.EventsExpired
	stats.MaxQueueLength = res.MaxQueueLength
}

// LoadTrace reads a trace previously written by Run.
func LoadTrace(filename string) (*Trace, error) {
	data, err := os.ReadFile(filepath.Clean(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	var trace Trace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("failed to parse trace: %w", err)
	}
	if len(trace.Events) == 0 {
		return nil, fmt.Errorf("trace %s has no events", filename)
	}
	return &trace, nil
}

// saveTrace writes the trace as indented JSON.
func saveTrace(ctx context.Context, config *Config, trace *Trace) error {
	if len(trace.Events) == 0 {
		return fmt.Errorf("no events to save")
	}

	// Determine output filename
	filename := config.OutputFile
	if filename == "" {
		timestamp := time.Now().Format("20060102_150405")
		filename = "trace_" + timestamp + ".json"
	}

	// Ensure the directory exists
	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), traceFilePermission); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}

	logger.Get().Info(ctx, "trace saved to file",
		logger.String("filename", filename),
		logger.Int("events", len(trace.Events)))
	return nil
}

// displayFinalStats prints the final replay statistics.
func displayFinalStats(stats *Stats) {
	var coalescedRate, framesPerSecond float64

	if stats.EventsProcessed > 0 {
		coalescedRate = float64(stats.CoalescedEventsUsed) / float64(stats.EventsProcessed) * PercentageMultiplier
	}

	if stats.Duration > 0 {
		framesPerSecond = float64(stats.Frames) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("gesturesGenerated", stats.GesturesGenerated),
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("eventsReplayed", stats.EventsReplayed),
		logger.Int("notifications", stats.Notifications),
		logger.Uint64("eventsProcessed", stats.EventsProcessed),
		logger.Uint64("coalescedEventsUsed", stats.CoalescedEventsUsed),
		logger.Uint64("predictedEventsUsed", stats.PredictedEventsUsed),
		logger.Uint64("eventsQueued", stats.EventsQueued),
		logger.Uint64("eventsEvicted", stats.EventsEvicted),
		logger.Uint64("eventsExpired", stats.EventsExpired),
		logger.Int("maxQueueLength", stats.MaxQueueLength),
		logger.Uint64("frames", stats.Frames),
		logger.Uint64("droppedFrames", stats.DroppedFrames),
		logger.Uint64("samplerRuns", stats.SamplerRuns),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("coalescedRate", coalescedRate),
		logger.Float64("framesPerSecond", framesPerSecond))
}
