package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // timezone names must resolve on minimal images
)

const (
	DefaultTimezone      = "America/Argentina/Buenos_Aires"
	DefaultHTTPAddr      = ":8000"
	DefaultWebhookPath   = "/api/telegram/webhook"
	DefaultMetricsPath   = "/metrics"
	DefaultMaxVoiceBytes = 20 << 20

	ModeWebhook = "webhook"
	ModePoll    = "poll"
)

var ErrMissingToken = errors.New("telegram.token is required (or set " + EnvTelegramToken + ")")

// ApplyDefaults fills zero-valued fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Telegram.Mode) == "" {
		cfg.Telegram.Mode = ModeWebhook
	}
	if cfg.Telegram.MaxVoiceBytes <= 0 {
		cfg.Telegram.MaxVoiceBytes = DefaultMaxVoiceBytes
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if strings.TrimSpace(cfg.HTTP.WebhookPath) == "" {
		cfg.HTTP.WebhookPath = DefaultWebhookPath
	}
	if strings.TrimSpace(cfg.HTTP.MetricsPath) == "" {
		cfg.HTTP.MetricsPath = DefaultMetricsPath
	}
	if strings.TrimSpace(cfg.Scheduler.Timezone) == "" {
		cfg.Scheduler.Timezone = DefaultTimezone
	}
	if cfg.Router.Workers <= 0 {
		cfg.Router.Workers = 4
	}
	if cfg.Router.QueueSize <= 0 {
		cfg.Router.QueueSize = 256
	}
	if cfg.Notifier.RatePerSec <= 0 {
		cfg.Notifier.RatePerSec = 20
	}
	if strings.TrimSpace(cfg.Transcription.Language) == "" {
		cfg.Transcription.Language = "es"
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate reports the first problem that would prevent the bot from running.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return ErrMissingToken
	}
	switch cfg.Telegram.Mode {
	case ModeWebhook, ModePoll:
	default:
		return fmt.Errorf("telegram.mode: unknown mode %q", cfg.Telegram.Mode)
	}
	if !strings.HasPrefix(cfg.HTTP.WebhookPath, "/") {
		return errors.New("http.webhook_path: must start with '/'")
	}
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	durations := map[string]string{
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"http.read_timeout":     cfg.HTTP.ReadTimeout,
		"http.write_timeout":    cfg.HTTP.WriteTimeout,
		"http.idle_timeout":     cfg.HTTP.IdleTimeout,
		"notifier.send_timeout": cfg.Notifier.SendTimeout,
		"transcription.timeout": cfg.Transcription.Timeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if cfg.Transcription.Enabled && strings.TrimSpace(cfg.Transcription.APIKey) == "" {
		return fmt.Errorf("transcription.api_key is required when transcription is enabled (or set %s)", EnvTranscribeAPIKey)
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		case "postgres":
			if strings.TrimSpace(cfg.Storage.DSN) == "" {
				return errors.New("storage.dsn is required for the postgres driver")
			}
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
