package sandbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/PaiCY-T/LLM-strategy-generator-sub011/validator"
)

// ResultFileName is the fixed, well-known path (relative to the scratch
// mount) where candidate code must write its metrics. This file is the only
// channel trusted for results; stdout and stderr are diagnostics only.
const ResultFileName = "result.json"

// ResultSchemaVersion is the current version of the result file contract.
const ResultSchemaVersion = 1

// ResourceUsage records peak consumption observed during an execution.
type ResourceUsage struct {
	PeakCPUPercent    float64
	PeakMemoryPercent float64
	PeakPids          int
}

// Result is the structured outcome of one execution.
type Result struct {
	Success       bool
	ErrorType     ErrorType
	Metrics       map[string]float64
	ExecutionTime time.Duration
	Usage         ResourceUsage
	KilledReason  string
	ExitCode      int
	Stdout        string
	Stderr        string
	Violations    []validator.Violation
}

// ParseResultFile decodes a result file into its metrics map. Two shapes
// are accepted: the current versioned envelope, and the legacy bare flat
// map emitted by older candidate-code templates. Anything else, including
// non-numeric metric values or an unknown version, is malformed.
func ParseResultFile(data []byte) (map[string]float64, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("result file is not a JSON object: %w", err)
	}

	if versionRaw, ok := raw["schema_version"]; ok {
		var version int
		if err := json.Unmarshal(versionRaw, &version); err != nil {
			return nil, fmt.Errorf("result schema_version is not an integer: %w", err)
		}
		if version != ResultSchemaVersion {
			return nil, fmt.Errorf("unsupported result schema version: %d", version)
		}
		metricsRaw, ok := raw["metrics"]
		if !ok {
			return nil, fmt.Errorf("versioned result file has no metrics field")
		}
		return parseMetrics(metricsRaw)
	}

	// Legacy shape: the whole object is the metrics map.
	return parseMetrics(data)
}

func parseMetrics(data []byte) (map[string]float64, error) {
	var metrics map[string]float64
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, fmt.Errorf("result metrics must be a flat map of string to number: %w", err)
	}
	return metrics, nil
}
