// Package logx configures simlog's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional operator alerts relayed to a chat (min-level + rate limiting)
package logx
