package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aulebatch/kernel/internal/domain"
)

func TestRenderPrompt_Success(t *testing.T) {
	p := domain.Payload{{Key: "file_path", Value: "/tmp/a.txt"}}
	got := RenderPrompt("process {file_path} now", p)
	assert.Equal(t, "process /tmp/a.txt now", got)
}

func TestRenderPrompt_PayloadPrefix(t *testing.T) {
	p := domain.Payload{{Key: "name", Value: "invoices"}}
	got := RenderPrompt("handle {payload.name}", p)
	assert.Equal(t, "handle invoices", got)
}

func TestRenderPrompt_MissingKeyLeavesTemplateUnrendered(t *testing.T) {
	p := domain.Payload{{Key: "file_path", Value: "/tmp/a.txt"}}
	got := RenderPrompt("process {file_path} and {missing_key}", p)
	assert.Contains(t, got, "process {file_path} and {missing_key}")
	assert.Contains(t, got, "[ERROR: Missing template variable: 'missing_key']")
}
