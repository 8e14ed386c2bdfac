// Package enumerate turns a job's data-source configuration into a list
// of work-unit payloads, grounded on the Python original's
// enumerators/base.py and enumerators/registry.py.
package enumerate

import (
	"context"
	"fmt"
	"sync"

	"github.com/aulebatch/kernel/internal/domain"
)

// Result is what every Enumerator produces.
type Result struct {
	Success bool
	Items   []domain.Payload
	Error   string
	Meta    map[string]any
}

func NewResult(items []domain.Payload) Result {
	return Result{Success: true, Items: items, Meta: map[string]any{"total_count": len(items)}}
}

func ErrorResult(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// Config is the enumerator's declarative configuration, itself decoded
// from the job-creation request's JSON body. Approved gates
// user-supplied enumeration recipes (DynamicEnumerator); every other
// enumerator ignores it.
type Config struct {
	Type     string
	Settings map[string]any
	Approved bool
}

// Enumerator produces the list of work units for a job from some data
// source. Validate runs before Enumerate so the Orchestrator can reject
// a bad job-creation request before touching the Store.
type Enumerator interface {
	Enumerate(ctx context.Context, cfg Config) Result
	ValidateConfig(cfg Config) error
	Name() string
}

type registry struct {
	mu    sync.RWMutex
	types map[string]func() Enumerator
}

var defaultRegistry = &registry{types: make(map[string]func() Enumerator)}

// Register adds an enumerator constructor under name. Called from each
// adapter's init() so importing this package transitively wires up
// file/csv/json/sql/dynamic without the caller needing to know the
// concrete types.
func Register(name string, ctor func() Enumerator) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.types[name] = ctor
}

// Create looks up name in the registry, returning an error listing the
// available types on a miss — the same shape as the Python original's
// create_enumerator.
func Create(name string) (Enumerator, error) {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()

	ctor, ok := defaultRegistry.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", domain.ErrUnknownEnumerator, name, availableTypesLocked())
	}
	return ctor(), nil
}

func availableTypesLocked() []string {
	names := make([]string, 0, len(defaultRegistry.types))
	for n := range defaultRegistry.types {
		names = append(names, n)
	}
	return names
}

func AvailableTypes() []string {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	return availableTypesLocked()
}
