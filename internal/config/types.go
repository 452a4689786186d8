package config

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Publisher PublisherConfig `json:"publisher"`

	// Storage holds the submission ledger. It may be omitted, but runs
	// with duplicate checking refuse to start without it.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Schedule is the default slot allocation for triggered runs.
	Schedule ScheduleConfig `json:"schedule"`

	Pipeline *PipelineConfig `json:"pipeline,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Trigger  *TriggerConfig  `json:"trigger,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// PublisherConfig configures the remote publishing API client and the
// destination account runs publish to.
type PublisherConfig struct {
	BaseURL    string `json:"base_url"`
	Token      string `json:"token"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Timeout    string `json:"timeout,omitempty"`

	Destination DestinationConfig `json:"destination"`
}

type DestinationConfig struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// StorageConfig controls the submission ledger.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./postflow_ledger" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ScheduleConfig is the raw schedule block.
//
// StartDate is "2006-01-02"; StartTime/EndTime are "HH:MM".
// SmartScheduleEnabled must agree with Mode (kept for compatibility
// with older configs that carried both).
type ScheduleConfig struct {
	Mode                 string `json:"mode"`
	StartDate            string `json:"start_date,omitempty"`
	StartTime            string `json:"start_time,omitempty"`
	EndTime              string `json:"end_time,omitempty"`
	IntervalMinutes      int    `json:"interval_minutes,omitempty"`
	PlaceID              string `json:"place_id,omitempty"`
	SmartScheduleEnabled bool   `json:"smart_schedule_enabled,omitempty"`
	Timezone             string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
}

type PipelineConfig struct {
	PausePoll string `json:"pause_poll,omitempty"`
}

// NotifierConfig controls operator alerts over Telegram.
type NotifierConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}

// TriggerConfig controls cron-driven automatic runs.
//
// Spec is a cron expression or "@every <duration>" (robfig/cron). The
// queue for a triggered run is read from QueueFile (JSON array of
// items) at trigger time.
type TriggerConfig struct {
	Enabled         bool   `json:"enabled"`
	Spec            string `json:"spec,omitempty"`
	QueueFile       string `json:"queue_file,omitempty"`
	CheckDuplicates bool   `json:"check_duplicates,omitempty"`
}
