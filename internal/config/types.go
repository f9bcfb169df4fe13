package config

type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	HTTP          HTTPConfig          `json:"http"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Router        RouterConfig        `json:"router"`
	Notifier      NotifierConfig      `json:"notifier"`
	Transcription TranscriptionConfig `json:"transcription"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Logging       LoggingConfig       `json:"logging"`
}

// TelegramConfig controls the bot adapter.
//
// Mode is "webhook" (default; updates arrive on the HTTP server) or "poll"
// (long polling, handy for local runs without a public URL).
type TelegramConfig struct {
	Token string `json:"token"`
	Mode  string `json:"mode,omitempty"`

	// WebhookURL is the public URL Telegram posts to. When empty the webhook
	// is served but not registered with Telegram.
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"` // do not log

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// MaxVoiceBytes bounds downloaded voice notes. Default 20 MiB.
	MaxVoiceBytes int64 `json:"max_voice_bytes,omitempty"`
}

// HTTPConfig controls the front-end server (status, health, metrics, webhook).
type HTTPConfig struct {
	Addr         string `json:"addr,omitempty"` // default ":8000"
	WebhookPath  string `json:"webhook_path,omitempty"`
	MetricsPath  string `json:"metrics_path,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Pprof mounts net/http/pprof under /debug/pprof/ when set.
	Pprof      bool   `json:"pprof,omitempty"`
	PprofToken string `json:"pprof_token,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is an IANA name; jobs use local wall-clock time in it.
	Timezone string `json:"timezone,omitempty"`
}

// RouterConfig controls inbound dispatch.
type RouterConfig struct {
	Workers   int `json:"workers,omitempty"`    // default 4
	QueueSize int `json:"queue_size,omitempty"` // default 256
}

// NotifierConfig controls outbound replies and reminder delivery.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default 20
	SendTimeout string `json:"send_timeout,omitempty"` // default "10s"
}

// TranscriptionConfig controls speech-to-text for voice notes.
type TranscriptionConfig struct {
	Enabled  bool   `json:"enabled"`
	APIKey   string `json:"api_key,omitempty"` // do not log
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// StorageConfig controls the audit trail.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
