// Package logx is bioscout's logging layer over zerolog.
//
// Console output is human-readable with a short caller, file output is JSON,
// and an optional chat sink mirrors warnings to an operator group with rate
// limiting and phone-number redaction. Loggers handed out by a Service follow
// every Apply, so a config reload changes sinks without rebuilding callers.
package logx
