package enumerate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_UnknownType(t *testing.T) {
	_, err := Create("does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestFileEnumerator(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("y"), 0o644))

	e, err := Create("file")
	require.NoError(t, err)

	res := e.Enumerate(context.Background(), Config{Settings: map[string]any{"pattern": filepath.Join(dir, "*.txt")}})
	require.True(t, res.Success)
	assert.Len(t, res.Items, 2)
}

func TestJSONEnumerator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	data, _ := json.Marshal([]map[string]any{{"name": "a"}, {"name": "b"}})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	e, err := Create("json")
	require.NoError(t, err)
	res := e.Enumerate(context.Background(), Config{Settings: map[string]any{"path": path}})
	require.True(t, res.Success)
	assert.Len(t, res.Items, 2)
}

func TestDynamicEnumerator_RequiresApproval(t *testing.T) {
	e, err := Create("dynamic")
	require.NoError(t, err)

	res := e.Enumerate(context.Background(), Config{
		Settings: map[string]any{"items": []any{map[string]any{"name": "a"}}},
		Approved: false,
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "approval")
}

func TestDynamicEnumerator_FilterAndRename(t *testing.T) {
	e, err := Create("dynamic")
	require.NoError(t, err)

	res := e.Enumerate(context.Background(), Config{
		Approved: true,
		Settings: map[string]any{
			"items": []any{
				map[string]any{"status": "active", "name": "a"},
				map[string]any{"status": "inactive", "name": "b"},
			},
			"filter": map[string]any{"status": "active"},
			"rename": map[string]any{"name": "label"},
		},
	})
	require.True(t, res.Success)
	require.Len(t, res.Items, 1)
	v, ok := res.Items[0].Get("label")
	require.True(t, ok)
	assert.Equal(t, "a", v)
}
