package runner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aulebatch/kernel/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_.]*)\}`)

// RenderPrompt substitutes every {key} (and {payload.key}) found in
// template with the matching payload value. Rendering is all-or-nothing,
// mirroring the Python original's template.format(**context): if any
// referenced key is missing, the template is returned completely
// unrendered with a visible trailing error marker rather than partially
// filled in, so a bad template never silently sends half a prompt to the
// agent.
func RenderPrompt(template string, payload domain.Payload) string {
	values := payload.ToMap()

	var missing string
	rendered := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		lookupKey := strings.TrimPrefix(key, "payload.")

		v, ok := values[lookupKey]
		if !ok {
			if missing == "" {
				missing = lookupKey
			}
			return match
		}
		return fmt.Sprint(v)
	})

	if missing != "" {
		return fmt.Sprintf("%s\n\n[ERROR: Missing template variable: '%s']", template, missing)
	}
	return rendered
}
