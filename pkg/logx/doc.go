// Package logx is taskgate's structured logging on top of zerolog.
//
// Console output is human readable with a short file:line caller, the log
// file is JSON, and a zero Logger is a safe no-op.
package logx
