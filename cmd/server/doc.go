// Package main is the entry point for the strategy execution MCP server.
//
// The server implements a secure Model Context Protocol (MCP) server that
// validates untrusted Python strategy code and executes it in isolated Docker
// environments with hard resource limits, runtime abuse monitoring, and
// orphan cleanup. The server supports both stdio and HTTP transports.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
