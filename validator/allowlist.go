package validator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// allowlistFile is the on-disk shape of an operator-supplied allow-list.
type allowlistFile struct {
	AllowedModules []string `yaml:"allowed_modules"`
}

// LoadAllowlist reads extra permitted module names from a YAML file.
// An empty path returns no modules.
func LoadAllowlist(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read allow-list file: %w", err)
	}

	var f allowlistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse allow-list file: %w", err)
	}

	return f.AllowedModules, nil
}
