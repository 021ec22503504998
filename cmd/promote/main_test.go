package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	chdir(t, dir)
	cfgPath = filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("model:\n  productionPath: %s\n  runsRoot: %s\n",
		filepath.Join(dir, "models", "best.onnx"), filepath.Join(dir, "runs", "detect"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return dir, cfgPath
}

func writeWeights(t *testing.T, dir, run, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, "runs", "detect", run, "weights", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestPromote(t *testing.T) {
	dir, cfgPath := setup(t)
	writeWeights(t, dir, "fruit-detection", "best.onnx", "bare")
	writeWeights(t, dir, "fruit-detection2", "last.onnx", "run2-last")

	var out bytes.Buffer
	code := run([]string{"-config", cfgPath}, &out)
	require.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "latest run: fruit-detection2")

	got, err := os.ReadFile(filepath.Join(dir, "models", "best.onnx"))
	require.NoError(t, err)
	assert.Equal(t, "run2-last", string(got))
}

func TestPromote_DryRun(t *testing.T) {
	dir, cfgPath := setup(t)
	writeWeights(t, dir, "fruit-detection3", "best.onnx", "run3-best")

	var out bytes.Buffer
	code := run([]string{"-config", cfgPath, "-dry-run"}, &out)
	require.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "selected: ")
	assert.NoFileExists(t, filepath.Join(dir, "models", "best.onnx"))
}

func TestPromote_NothingToPromote(t *testing.T) {
	dir, cfgPath := setup(t)

	var out bytes.Buffer
	assert.Equal(t, 1, run([]string{"-config", cfgPath}, &out))
	assert.Contains(t, out.String(), "no fruit-detection* runs")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "runs", "detect", "fruit-detection4", "weights"), 0o755))
	out.Reset()
	assert.Equal(t, 1, run([]string{"-config", cfgPath}, &out))
	assert.Contains(t, out.String(), "nothing to promote")
}

func TestPromote_BadFlag(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 2, run([]string{"-no-such-flag"}, &out))
}

// chdir is the pre-Go 1.24 equivalent of t.Chdir.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
