package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{name: "empty path", input: "", wantError: true},
		{name: "relative path", input: "./test", wantError: false},
		{name: "absolute path", input: "/tmp/test", wantError: false},
		{name: "home path", input: "~/.photoqueue", wantError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(result))
			assert.NotContains(t, result, "~")
		})
	}
}

func TestEnsureParent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "index.db")

	require.NoError(t, EnsureParent(target))
	assert.True(t, DirExists(filepath.Dir(target)))
	assert.False(t, FileExists(target))

	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	assert.True(t, FileExists(target))
	assert.False(t, DirExists(target))
	require.NoError(t, EnsureParent(target))
}
