package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Retention RetentionConfig `json:"retention,omitempty"`
	Notifier  NotifierConfig  `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// RatePerSec caps outbound sends. 0 means the adapter default.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./sendbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls delivery timing policy.
//
// All durations are Go duration strings (e.g. "5s", "1m").
type SchedulerConfig struct {
	// GraceWindow treats "due now or slightly overdue" as immediate rather
	// than expired. Default "5s".
	GraceWindow string `json:"grace_window,omitempty"`
	// ReadyWait bounds how long an execution waits for the transport to
	// become ready before the occurrence is failed. Default "15s".
	ReadyWait string `json:"ready_wait,omitempty"`
	// DropAfter, when > 0, marks records overdue by more than this at
	// recovery time as expired instead of sending them late. Default "0s"
	// (always deliver late rather than drop).
	DropAfter string `json:"drop_after,omitempty"`
}

// NotifierConfig controls operator notices about failed deliveries.
type NotifierConfig struct {
	Enabled bool `json:"enabled"`
	// AdminChatID receives the notices.
	AdminChatID string `json:"admin_chat_id,omitempty"`
	// SuppressWindow silences repeats of the same notice (Go duration
	// string). Default "5m".
	SuppressWindow string `json:"suppress_window,omitempty"`
	// RatePerSec caps outbound notices. Default 1.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// RetentionConfig controls pruning of terminal records. Disabled by default;
// terminal records are otherwise kept forever for audit.
type RetentionConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron spec (e.g. "0 4 * * *"). Default: daily at 04:00.
	Schedule string `json:"schedule,omitempty"`
	// Keep is how long terminal records are retained (Go duration string).
	// Default "720h" (30 days).
	Keep string `json:"keep,omitempty"`
}
