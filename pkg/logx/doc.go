// Package logx configures omicron's structured logging.
//
// This is a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Log reconfiguration (level/sinks) live-reloadable without a process restart
package logx
