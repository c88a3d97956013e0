// Package logx configures postpilot's structured logging.
//
// The wrapper (logx.Logger) sits on top of zerolog and keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional remote sink (min-level + rate limiting), used to mirror
//     warnings into the same Telegram chat posts are delivered to
package logx
