// Package logx is the bot's structured logging layer.
//
// Logger is a small value type over zerolog:
//   - console output stays human-readable (short timestamp, file:line caller)
//   - file output is JSON, one event per line
//   - an optional chat sink forwards warnings to a Telegram chat, rate limited
//
// Service owns the sinks and can swap them at runtime (config hot reload);
// loggers derived from it follow the swap without being rebuilt.
package logx
