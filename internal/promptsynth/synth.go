// Package promptsynth builds the prompt template a job hands to every
// work unit, grounded on the Python original's
// core/prompt_synthesizer.py.
package promptsynth

import (
	"context"
	"fmt"
	"strings"

	"github.com/aulebatch/kernel/internal/domain"
)

// Synthesizer turns a job's high-level intent plus one sample payload
// into a worker prompt template containing {key} placeholders.
type Synthesizer interface {
	Synthesize(ctx context.Context, intent string, unitType string, sample domain.Payload) (string, error)
}

// TemplateSynthesizer is the deterministic default: a fixed prompt
// shape branching only on whether the unit looks file-shaped (has a
// file_path key) or is a generic payload, exactly the two
// shapes the Python original's PromptSynthesizer distinguishes.
type TemplateSynthesizer struct{}

func (TemplateSynthesizer) Synthesize(_ context.Context, intent, unitType string, sample domain.Payload) (string, error) {
	if _, ok := sample.Get("file_path"); ok {
		return fmt.Sprintf(
			"%s\n\nProcess the file at {file_path}. Work only within the directory containing this file unless instructed otherwise.",
			intent,
		), nil
	}

	keys := make([]string, 0, len(sample))
	for _, kv := range sample {
		keys = append(keys, kv.Key)
	}
	placeholders := make([]string, 0, len(keys))
	for _, k := range keys {
		placeholders = append(placeholders, fmt.Sprintf("%s: {%s}", k, k))
	}

	return fmt.Sprintf("%s\n\nProcess this %s record:\n%s", intent, unitType, strings.Join(placeholders, "\n")), nil
}

// LLMSynthesizer asks a domain.LLMProvider to draft the template from
// the job's intent and a rendered sample, for when the fixed shape
// above is too rigid for what the job actually needs done per unit.
type LLMSynthesizer struct {
	Provider domain.LLMProvider
}

func (s LLMSynthesizer) Synthesize(ctx context.Context, intent, unitType string, sample domain.Payload) (string, error) {
	samplePreview := make([]string, 0, len(sample))
	for _, kv := range sample {
		samplePreview = append(samplePreview, fmt.Sprintf("%s=%v", kv.Key, kv.Value))
	}

	prompt := fmt.Sprintf(
		"Write a worker prompt template for an LLM agent batch job.\n"+
			"Job intent: %s\n"+
			"Unit type: %s\n"+
			"Sample unit fields: %s\n"+
			"Reference every field the agent needs using {field_name} placeholders. "+
			"Reply with only the template text.",
		intent, unitType, strings.Join(samplePreview, ", "),
	)

	out, err := s.Provider.GenerateText(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("synthesize prompt via LLM: %w", err)
	}
	return strings.TrimSpace(out), nil
}
