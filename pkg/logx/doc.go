// Package logx configures reposter's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output
// readable with a short timestamp and caller, writes JSON to the optional
// log file, and forwards WARN and above to an operator chat through a
// rate-limited Telegram sink.
package logx
