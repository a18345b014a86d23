package tracereplay

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/cadence/pkg/logger"
)

// verifyReplay checks the pipeline invariants a replay must uphold.
func verifyReplay(ctx context.Context, config *Config, res *result) error {
	logger.Get().Info(ctx, "verifying replay")

	var violations []string
	if res.Leftover != 0 {
		violations = append(violations, fmt.Sprintf("%d touches still active after every gesture closed", res.Leftover))
	}
	if res.MaxQueueLength > config.MaxQueueSize {
		violations = append(violations, fmt.Sprintf("queue reached %d entries, capacity is %d", res.MaxQueueLength, config.MaxQueueSize))
	}
	if res.NonFinite != 0 {
		violations = append(violations, fmt.Sprintf("%d non-finite velocities or predictions", res.NonFinite))
	}
	if res.SamplerRuns != res.Scheduler.TotalFrames {
		violations = append(violations, fmt.Sprintf("critical task ran %d times over %d frames", res.SamplerRuns, res.Scheduler.TotalFrames))
	}
	if res.Scheduler.TotalFrames != uint64(res.FramesFired) {
		violations = append(violations, fmt.Sprintf("scheduler processed %d of %d frames", res.Scheduler.TotalFrames, res.FramesFired))
	}
	if res.FrameGaps != 0 {
		violations = append(violations, fmt.Sprintf("critical task missed %d frames", res.FrameGaps))
	}
	if config.Mode == ModeImmediate {
		if res.Starts != res.Gestures {
			violations = append(violations, fmt.Sprintf("%d start notifications for %d gestures", res.Starts, res.Gestures))
		}
		if res.Ends+res.Cancels != res.Gestures {
			violations = append(violations, fmt.Sprintf("%d end notifications for %d gestures", res.Ends+res.Cancels, res.Gestures))
		}
	}

	displayDetails(ctx, res, config.Verbose)

	if len(violations) > 0 {
		for _, v := range violations {
			logger.Get().Error(ctx, "invariant violated", logger.String("detail", v))
		}
		return fmt.Errorf("%w: %s", ErrVerification, strings.Join(violations, "; "))
	}

	logger.Get().Info(ctx, "replay verification completed")
	return nil
}

// displayDetails logs the delivery breakdown, plus latency and task timing
// when verbose.
func displayDetails(ctx context.Context, res *result, verbose bool) {
	logger.Get().Info(ctx, "delivery breakdown",
		logger.Int("starts", res.Starts),
		logger.Int("ends", res.Ends),
		logger.Int("cancels", res.Cancels),
		logger.Int("notifications", res.Notifications))

	if !verbose {
		return
	}
	lat := res.Reducer.Latency
	logger.Get().Info(ctx, "input latency",
		logger.Int("samples", lat.Count),
		logger.Float64("avgMs", lat.Avg),
		logger.Float64("p95Ms", lat.P95),
		logger.Float64("maxMs", lat.Max))
	logger.Get().Info(ctx, "sampler task",
		logger.Uint64("runs", res.Sampler.Runs),
		logger.Uint64("errors", res.Sampler.Errors),
		logger.Float64("avgRunMs", res.Sampler.AverageRunTimeMs))
}
