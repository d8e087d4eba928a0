// Package mcpserver provides the Model Context Protocol (MCP) server
// implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// run_strategy tool for executing candidate strategy code in an isolated
// environment and the reap_orphans tool for triggering an on-demand sweep of
// abandoned environments. It uses the mark3labs/mcp-go library to handle the
// protocol details.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	srv, err := mcpserver.New(config, logger, executor, sweeper)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = srv.ServeStdio() // or srv.ServeHTTP()
package mcpserver
