package pipeline

import (
	"errors"
	"fmt"
	"time"

	"postflow/internal/publish"
)

// QueueItem is one piece of content waiting to be published.
type QueueItem = publish.ContentItem

// Mode selects the slot allocation strategy.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeSmart  Mode = "smart"
)

// TimeOfDay is a local wall-clock time at minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// After compares as an (hour, minute) pair, lexicographically.
func (t TimeOfDay) After(o TimeOfDay) bool {
	return t.Hour > o.Hour || (t.Hour == o.Hour && t.Minute > o.Minute)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// ScheduleConfig governs slot allocation for one run.
//
// StartDate carries the calendar date (and location); its time-of-day is
// ignored. StartTime/EndTime/IntervalMinutes drive the manual cadence
// and its day-rollover window. PlaceID, when set, is attached to every
// created post unless the item carries its own.
//
// SmartScheduleEnabled is redundant with Mode and kept for config
// compatibility; Validate rejects configs where the two disagree.
type ScheduleConfig struct {
	Mode            Mode
	StartDate       time.Time
	StartTime       TimeOfDay
	EndTime         TimeOfDay
	IntervalMinutes int
	PlaceID         string

	SmartScheduleEnabled bool
}

func (c ScheduleConfig) Validate() error {
	switch c.Mode {
	case ModeManual:
		if c.SmartScheduleEnabled {
			return errors.New("schedule: smart_schedule_enabled is set but mode is manual")
		}
		if c.IntervalMinutes <= 0 {
			return errors.New("schedule: interval_minutes must be > 0")
		}
		if c.StartDate.IsZero() {
			return errors.New("schedule: start_date is required for manual mode")
		}
	case ModeSmart:
		if !c.SmartScheduleEnabled {
			return errors.New("schedule: mode is smart but smart_schedule_enabled is false")
		}
	default:
		return fmt.Errorf("schedule: unknown mode %q", c.Mode)
	}
	return nil
}

// LogStatus classifies a run log entry.
type LogStatus string

const (
	StatusInfo    LogStatus = "info"
	StatusSuccess LogStatus = "success"
	StatusError   LogStatus = "error"
)

// LogEntry is one line of the run log. Entries are created only by the
// runner; observers treat them as read-only.
type LogEntry struct {
	Time    time.Time
	ItemID  string
	Status  LogStatus
	Message string
}

// Progress is the (current, total) run counter. Current is monotonically
// non-decreasing within a run and resets to 0 at run start.
type Progress struct {
	Current int
	Total   int
}

// RunState is the pipeline state machine.
//
// Idle → Running, Running ⇄ Paused, Running/Paused → Cancelling →
// Completed, Running → Completed. The runner is the sole mutator.
type RunState int

const (
	StateIdle RunState = iota
	StateRunning
	StatePaused
	StateCancelling
	StateCompleted
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCancelling:
		return "cancelling"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("runstate(%d)", int(s))
	}
}

// active reports whether a run is currently owned by the worker.
func (s RunState) active() bool {
	return s == StateRunning || s == StatePaused || s == StateCancelling
}

// RunRequest describes one batch run.
//
// CheckDuplicates turns on the submission ledger: before each item the
// runner consults the store and skips items already submitted to the
// destination, and records every successful submission. The plain
// single-destination scheduling flow leaves it off.
type RunRequest struct {
	Queue           []QueueItem
	Destination     publish.Destination
	Schedule        ScheduleConfig
	CheckDuplicates bool
}

// RunCounts summarizes item outcomes of a run.
type RunCounts struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// Snapshot is a read-only view of the current/last run.
// Log is ordered most recent first.
type Snapshot struct {
	RunID    string
	State    RunState
	Progress Progress
	Counts   RunCounts
	Log      []LogEntry
}

// Observers are the pipeline's outbound callbacks. All fields are
// optional; callbacks are invoked from the runner goroutine and must not
// block or mutate pipeline state.
type Observers struct {
	OnLog         func(LogEntry)
	OnProgress    func(Progress)
	OnRunState    func(RunState)
	OnAuthFailure func()
}

var (
	ErrRunInProgress = errors.New("pipeline: run already in progress")
	ErrEmptyQueue    = errors.New("pipeline: queue is empty")
	ErrNoDestination = errors.New("pipeline: no destination selected")
	ErrNoLedger      = errors.New("pipeline: duplicate check requested but no store configured")
)
