package sandbox

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/PaiCY-T/LLM-strategy-generator-sub011/metrics"
	"github.com/PaiCY-T/LLM-strategy-generator-sub011/validator"
)

// Executor is the execution entry point transport layers consume.
type Executor interface {
	Run(ctx context.Context, req ExecutionRequest) (Result, error)
}

// Service is the caller-facing composition of static validation and
// isolated execution. Rejected code never reaches the runtime: no
// environment, scratch mount, or monitor is ever allocated for it.
type Service struct {
	validator *validator.Validator
	manager   *Manager
	logger    *zap.Logger
}

// NewService wires the validation gate in front of the lifecycle manager.
func NewService(logger *zap.Logger, v *validator.Validator, m *Manager) *Service {
	return &Service{validator: v, manager: m, logger: logger}
}

// Run validates and, if clean, executes the candidate code.
func (s *Service) Run(ctx context.Context, req ExecutionRequest) (Result, error) {
	ok, violations := s.validator.Validate(req.Code, req.Capabilities...)
	if !ok {
		metrics.ValidationsTotal.WithLabelValues("rejected").Inc()

		msgs := make([]string, len(violations))
		for i, v := range violations {
			msgs[i] = v.String()
		}
		return Result{
			ErrorType:  ErrorValidationRejected,
			Stderr:     strings.Join(msgs, "\n"),
			Violations: violations,
		}, nil
	}
	metrics.ValidationsTotal.WithLabelValues("accepted").Inc()

	return s.manager.Execute(ctx, req)
}
