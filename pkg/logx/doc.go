// Package logx configures the bot's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog and provides:
//   - readable console output with a short timestamp and caller
//   - JSON lines when logging to a file
//   - an optional Telegram sink for warnings, with a minimum level and a rate limit
package logx
