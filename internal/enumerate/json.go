package enumerate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aulebatch/kernel/internal/domain"
)

func init() { Register("json", func() Enumerator { return &JSONEnumerator{} }) }

// JSONEnumerator reads a JSON array of objects from a file and turns
// each element into a work unit payload.
type JSONEnumerator struct{}

func (e *JSONEnumerator) Name() string { return "json" }

func (e *JSONEnumerator) ValidateConfig(cfg Config) error {
	path, _ := cfg.Settings["path"].(string)
	if path == "" {
		return fmt.Errorf("json enumerator requires a non-empty \"path\" setting")
	}
	return nil
}

func (e *JSONEnumerator) Enumerate(_ context.Context, cfg Config) Result {
	if err := e.ValidateConfig(cfg); err != nil {
		return ErrorResult(err)
	}
	path, _ := cfg.Settings["path"].(string)

	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult(fmt.Errorf("read %q: %w", path, err))
	}

	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return ErrorResult(fmt.Errorf("decode json array in %q: %w", path, err))
	}

	items := make([]domain.Payload, 0, len(raw))
	for _, obj := range raw {
		items = append(items, domain.PayloadFromMap(obj))
	}
	return NewResult(items)
}
