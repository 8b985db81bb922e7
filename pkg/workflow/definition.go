package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dukex/agentflow/pkg/models"
)

// ParseDefinition decodes and validates a JSON workflow definition.
func ParseDefinition(data []byte) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition

	err := json.Unmarshal(data, &def)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow definition: %w", err)
	}

	err = Validate(&def)
	if err != nil {
		return nil, err
	}

	return &def, nil
}

// LoadDefinition reads a workflow definition file.
func LoadDefinition(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definition %s: %w", path, err)
	}

	return ParseDefinition(data)
}
