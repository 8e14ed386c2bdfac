package enumerate

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aulebatch/kernel/internal/domain"
)

func init() { Register("file", func() Enumerator { return &FileEnumerator{} }) }

// FileEnumerator globs a filesystem pattern into one work unit per match.
type FileEnumerator struct{}

func (e *FileEnumerator) Name() string { return "file" }

func (e *FileEnumerator) ValidateConfig(cfg Config) error {
	pattern, _ := cfg.Settings["pattern"].(string)
	if pattern == "" {
		return fmt.Errorf("file enumerator requires a non-empty \"pattern\" setting")
	}
	return nil
}

func (e *FileEnumerator) Enumerate(_ context.Context, cfg Config) Result {
	if err := e.ValidateConfig(cfg); err != nil {
		return ErrorResult(err)
	}
	pattern, _ := cfg.Settings["pattern"].(string)

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return ErrorResult(fmt.Errorf("glob %q: %w", pattern, err))
	}

	items := make([]domain.Payload, 0, len(matches))
	for _, m := range matches {
		items = append(items, domain.Payload{
			{Key: "file_path", Value: m},
			{Key: "file_name", Value: filepath.Base(m)},
		})
	}
	return NewResult(items)
}
