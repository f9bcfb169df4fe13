package config

import (
	"hash/fnv"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens or api keys).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.Mode != newCfg.Telegram.Mode ||
		strings.TrimSpace(oldCfg.Telegram.WebhookURL) != strings.TrimSpace(newCfg.Telegram.WebhookURL) ||
		oldCfg.Telegram.WebhookSecret != newCfg.Telegram.WebhookSecret {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.mode", newCfg.Telegram.Mode),
			logx.Bool("telegram.webhook_url_set", strings.TrimSpace(newCfg.Telegram.WebhookURL) != ""),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}

	if oldCfg.Router != newCfg.Router {
		changed = append(changed, "router")
		attrs = append(attrs, logx.Int("router.workers", newCfg.Router.Workers))
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.String("notifier.send_timeout", newCfg.Notifier.SendTimeout),
		)
	}

	if oldCfg.Transcription != newCfg.Transcription {
		changed = append(changed, "transcription")
		attrs = append(attrs,
			logx.Bool("transcription.enabled", newCfg.Transcription.Enabled),
			logx.String("transcription.model", newCfg.Transcription.Model),
			logx.Bool("transcription.api_key_set", strings.TrimSpace(newCfg.Transcription.APIKey) != ""),
		)
	}

	var oldStore, newStore StorageConfig
	if oldCfg.Storage != nil {
		oldStore = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newStore = *newCfg.Storage
	}
	if oldStore != newStore {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newStore.Driver))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	return changed, attrs
}

// RequiresRestart reports sections that cannot be applied to a running process.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, c := range changed {
		switch c {
		case "telegram", "http", "storage", "transcription", "router":
			out = append(out, c)
		}
	}
	return out
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
