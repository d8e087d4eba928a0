package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/PaiCY-T/LLM-strategy-generator-sub011/config"
	"github.com/PaiCY-T/LLM-strategy-generator-sub011/logger"
	"github.com/PaiCY-T/LLM-strategy-generator-sub011/mcpserver"
	"github.com/PaiCY-T/LLM-strategy-generator-sub011/sandbox"
	"github.com/PaiCY-T/LLM-strategy-generator-sub011/validator"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Container runtime
			newRuntime,

			// Static analysis gate with the configured allow-list
			newValidator,

			// Lifecycle manager, orphan reaper, and the composed service
			sandbox.NewManager,
			sandbox.NewReaper,
			sandbox.NewService,
			func(s *sandbox.Service) sandbox.Executor { return s },
			func(r *sandbox.Reaper) sandbox.Sweeper { return r },

			// MCP Server
			mcpserver.New,
		),

		// Scheduled orphan sweep for the lifetime of the process
		fx.Invoke(
			func(lc fx.Lifecycle, cfg *config.Config, reaper *sandbox.Reaper) {
				ctx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						go reaper.RunScheduled(ctx, cfg.ReapInterval())
						return nil
					},
					OnStop: func(context.Context) error {
						cancel()
						return nil
					},
				})
			},
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newRuntime(cfg *config.Config, log *zap.Logger) (sandbox.Runtime, error) {
	return sandbox.NewDockerRuntime(log, cfg.Sandbox.Image)
}

func newValidator(cfg *config.Config, log *zap.Logger) (*validator.Validator, error) {
	extra, err := validator.LoadAllowlist(cfg.Validator.AllowlistFile)
	if err != nil {
		return nil, err
	}
	return validator.New(log, validator.WithAllowedModules(extra...)), nil
}
