package enumerate

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/aulebatch/kernel/internal/domain"
)

func init() { Register("csv", func() Enumerator { return &CSVEnumerator{} }) }

// CSVEnumerator turns each data row of a delimited text file into a
// work unit, keyed by the header row.
type CSVEnumerator struct{}

func (e *CSVEnumerator) Name() string { return "csv" }

func (e *CSVEnumerator) ValidateConfig(cfg Config) error {
	path, _ := cfg.Settings["path"].(string)
	if path == "" {
		return fmt.Errorf("csv enumerator requires a non-empty \"path\" setting")
	}
	return nil
}

func (e *CSVEnumerator) Enumerate(_ context.Context, cfg Config) Result {
	if err := e.ValidateConfig(cfg); err != nil {
		return ErrorResult(err)
	}
	path, _ := cfg.Settings["path"].(string)

	f, err := os.Open(path)
	if err != nil {
		return ErrorResult(fmt.Errorf("open %q: %w", path, err))
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if delim, ok := cfg.Settings["delimiter"].(string); ok && len(delim) == 1 {
		reader.Comma = rune(delim[0])
	}

	rows, err := reader.ReadAll()
	if err != nil {
		return ErrorResult(fmt.Errorf("read csv %q: %w", path, err))
	}
	if len(rows) == 0 {
		return NewResult(nil)
	}

	header := rows[0]
	items := make([]domain.Payload, 0, len(rows)-1)
	for _, row := range rows[1:] {
		p := make(domain.Payload, 0, len(header))
		for i, col := range header {
			if i < len(row) {
				p = append(p, domain.KV{Key: col, Value: row[i]})
			}
		}
		items = append(items, p)
	}
	return NewResult(items)
}
