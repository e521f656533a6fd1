package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("FileAndEnvironment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "trace2onnx.toml")
		content := `
opset = 17
enable_double_precision = true
custom_domain = "my.domain"

[metadata]
model = "bert"
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		t.Setenv(EnvPrefix+"_IR_VERSION", "9")
		t.Setenv(EnvPrefix+"_OPSET", "18")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, int64(18), cfg.Opset, "environment overrides the file")
		assert.Equal(t, int64(9), cfg.IRVersion)
		assert.True(t, cfg.EnableDoublePrecision)
		assert.Equal(t, "my.domain", cfg.CustomDomain)
		assert.Equal(t, map[string]string{"model": "bert"}, cfg.Metadata)
		assert.Equal(t, "trace2onnx", cfg.ProducerName)
	})

	t.Run("Invalid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte(`custom_domain = ""`), 0o644))
		_, err := LoadConfig(path)
		require.Error(t, err)

		_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
		require.Error(t, err)
	})
}
