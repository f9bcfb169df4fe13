package config

import (
	"os"
	"strings"
)

// Environment variables that override file values. Secrets are expected here
// rather than in the config file.
const (
	EnvTelegramToken     = "TELEGRAM_TOKEN"
	EnvTimezone          = "APP_TZ"
	EnvWebhookURL        = "WEBHOOK_URL"
	EnvWebhookSecret     = "WEBHOOK_SECRET"
	EnvTranscribeAPIKey  = "TRANSCRIBE_API_KEY"
	EnvTranscribeBaseURL = "TRANSCRIBE_BASE_URL"
	EnvHTTPAddr          = "HTTP_ADDR"
)

// LoadEnv reads KEY=VALUE lines from path into the process environment.
// Blank lines and lines starting with # are skipped; surrounding quotes are
// stripped. Variables already set in the environment win.
func LoadEnv(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		_ = os.Setenv(key, value)
	}
	return nil
}

// LoadEnvOptional is LoadEnv, but a missing file is not an error.
func LoadEnvOptional(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return LoadEnv(path)
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Telegram.WebhookURL, EnvWebhookURL)
	set(&cfg.Telegram.WebhookSecret, EnvWebhookSecret)
	set(&cfg.Scheduler.Timezone, EnvTimezone)
	set(&cfg.Transcription.APIKey, EnvTranscribeAPIKey)
	set(&cfg.Transcription.BaseURL, EnvTranscribeBaseURL)
	set(&cfg.HTTP.Addr, EnvHTTPAddr)
}
