package store

import (
	"fmt"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// matchesJMESPath evaluates expr against extra and reports whether the
// result is truthy (JMESPath's own notion: anything but false, null, an
// empty string, an empty list, or an empty map). This gives dashboard
// and MCP callers a structured way to filter heterogeneous per-entry
// log metadata without the Store growing a bespoke query language.
func matchesJMESPath(expr string, extra map[string]any) (bool, error) {
	result, err := jmespath.Search(expr, extra)
	if err != nil {
		return false, fmt.Errorf("evaluate jmespath filter %q: %w", expr, err)
	}
	return isTruthy(result), nil
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
