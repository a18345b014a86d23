package scheduler

import (
	"context"
	"strings"
	"time"
)

// Priority orders tasks within a frame.
type Priority int

// Task priorities, lowest weight first.
const (
	PriorityIdle Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityIdle:
		return "idle"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps a priority name to its value.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle":
		return PriorityIdle, true
	case "low":
		return PriorityLow, true
	case "normal":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	case "critical":
		return PriorityCritical, true
	}
	return PriorityNormal, false
}

// FrameInfo describes the frame a task runs in.
type FrameInfo struct {
	FrameNumber uint64
	Timestamp   time.Time
	DeltaTimeMs float64
	BudgetMs    float64
}

// TaskFunc is the work of a scheduled task. It must not block.
type TaskFunc func(ctx context.Context, info FrameInfo) error

// TaskInfo is a snapshot of a scheduled task.
type TaskInfo struct {
	Name             string
	Priority         Priority
	MaxSkipFrames    int
	FramesSinceRun   int
	AverageRunTimeMs float64
	Runs             uint64
	Errors           uint64
	Enabled          bool
}

type task struct {
	name           string
	priority       Priority
	fn             TaskFunc
	maxSkipFrames  int
	framesSinceRun int
	avgRunMs       float64
	runs           uint64
	errors         uint64
	enabled        bool
	seq            uint64
}

// runTimeWeight is the weight of the newest sample in the rolling run time.
const runTimeWeight = 0.2

func (t *task) recordRun(ms float64) {
	if t.runs == 0 {
		t.avgRunMs = ms
	} else {
		t.avgRunMs += runTimeWeight * (ms - t.avgRunMs)
	}
	t.runs++
	t.framesSinceRun = 0
}

func (t *task) info() TaskInfo {
	return TaskInfo{
		Name:             t.name,
		Priority:         t.priority,
		MaxSkipFrames:    t.maxSkipFrames,
		FramesSinceRun:   t.framesSinceRun,
		AverageRunTimeMs: t.avgRunMs,
		Runs:             t.runs,
		Errors:           t.errors,
		Enabled:          t.enabled,
	}
}

type opKind int

const (
	opSchedule opKind = iota
	opUnschedule
	opEnable
	opDisable
)

// tableOp is a task-table mutation deferred until the next sort pass.
type tableOp struct {
	kind opKind
	name string
	task *task
}

type onceTask struct {
	fn       TaskFunc
	priority Priority
}
