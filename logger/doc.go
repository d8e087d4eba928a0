// Package logger provides structured logging setup.
//
// The logger package builds the application's zap logger from the logging
// configuration, supporting production (JSON, ISO8601 timestamps) and
// development (console, colored levels) modes.
package logger
