package enumerate

import (
	"context"
	"fmt"
	"strings"

	"github.com/aulebatch/kernel/internal/domain"
)

func init() { Register("dynamic", func() Enumerator { return &DynamicEnumerator{} }) }

// DynamicEnumerator lets a caller supply a raw JSON array of items plus
// a small declarative filter/rename recipe instead of pointing at a
// file on disk. It never evaluates user-supplied code — the recipe is
// a fixed set of comparisons and key renames, not an expression
// language — but spec.md §9 still requires an explicit human approval
// gate before any user-supplied enumeration config runs, since the
// items/filter values themselves are untrusted input chosen by whoever
// is creating the job.
type DynamicEnumerator struct{}

func (e *DynamicEnumerator) Name() string { return "dynamic" }

func (e *DynamicEnumerator) ValidateConfig(cfg Config) error {
	if _, ok := cfg.Settings["items"].([]any); !ok {
		return fmt.Errorf("dynamic enumerator requires an \"items\" array setting")
	}
	return nil
}

func (e *DynamicEnumerator) Enumerate(_ context.Context, cfg Config) Result {
	if !cfg.Approved {
		return ErrorResult(domain.ErrPendingApproval)
	}
	if err := e.ValidateConfig(cfg); err != nil {
		return ErrorResult(err)
	}

	rawItems, _ := cfg.Settings["items"].([]any)
	filter, _ := cfg.Settings["filter"].(map[string]any)
	rename, _ := cfg.Settings["rename"].(map[string]any)

	var items []domain.Payload
	for _, raw := range rawItems {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if filter != nil && !matchesFilter(obj, filter) {
			continue
		}
		items = append(items, domain.PayloadFromMap(applyRename(obj, rename)))
	}
	return NewResult(items)
}

// matchesFilter supports the three comparisons the original dynamic
// recipe needs: equals (default), "not", and "contains" for strings.
func matchesFilter(obj map[string]any, filter map[string]any) bool {
	for key, spec := range filter {
		val, present := obj[key]
		switch s := spec.(type) {
		case map[string]any:
			if want, ok := s["not"]; ok {
				if present && fmt.Sprint(val) == fmt.Sprint(want) {
					return false
				}
				continue
			}
			if want, ok := s["contains"]; ok {
				if !present {
					return false
				}
				if !strings.Contains(fmt.Sprint(val), fmt.Sprint(want)) {
					return false
				}
				continue
			}
		default:
			if !present || fmt.Sprint(val) != fmt.Sprint(spec) {
				return false
			}
		}
	}
	return true
}

func applyRename(obj map[string]any, rename map[string]any) map[string]any {
	if rename == nil {
		return obj
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		newKey := k
		if renamed, ok := rename[k].(string); ok {
			newKey = renamed
		}
		out[newKey] = v
	}
	return out
}
