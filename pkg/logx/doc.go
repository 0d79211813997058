// Package logx configures statbar's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// Everything goes to stderr or a file: stdout carries the bar protocol
// stream and must never receive log lines.
package logx
