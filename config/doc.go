// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It covers the server transport, the
// execution environment limits, the default runtime security policy, the
// static validator allow-list, and the orphan reaper schedule.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
