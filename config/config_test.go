package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.HTTPPort)
	assert.Equal(t, "models/best.onnx", cfg.Model.ProductionPath)
	assert.Equal(t, "fruit-detection", cfg.Model.RunPrefix)
	assert.Equal(t, DefaultClasses, cfg.Classes)
	assert.NotEmpty(t, cfg.Warnings)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	yml := `
httpPort: 8081
workersNum: 0
inferenceBackend: OnnxRuntime
model:
  productionPath: prod/best.onnx
  runPrefix: exp
  confidence: 3
classes: [a, b]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FOODDET_RPC_PORT=6000\n"), 0o644))
	t.Setenv("FOODDET_HTTP_PORT", "9999")

	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Unsetenv("FOODDET_RPC_PORT") })

	assert.Equal(t, 9999, cfg.HTTPPort)
	assert.Equal(t, 6000, cfg.RPCPort)
	assert.Equal(t, 1, cfg.WorkersNum)
	assert.Equal(t, BackendOnnxRuntime, cfg.InferenceBackend)
	assert.Equal(t, "prod/best.onnx", cfg.Model.ProductionPath)
	assert.Equal(t, "exp", cfg.Model.RunPrefix)
	assert.Equal(t, float32(0.25), cfg.Model.Confidence)
	assert.Equal(t, "best.onnx", cfg.Model.BestWeights)
	assert.Equal(t, []string{"a", "b"}, cfg.Classes)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("httpPort: [1"), 0o644))

	_, err := Load("config.yaml")
	assert.Error(t, err)
}

// chdir is the pre-Go 1.24 equivalent of t.Chdir.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
