package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPrintsFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("alpha\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("beta\n"), 0o644))

	out := filepath.Join(dir, "out")
	stdout, err := os.Create(out)
	require.NoError(t, err)
	saved := os.Stdout
	os.Stdout = stdout
	status := run("", filepath.Join(dir, "absent.env"), "workerpool", []string{a, b})
	os.Stdout = saved
	require.NoError(t, stdout.Close())

	assert.Equal(t, 0, status)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\n", string(got))
}

func TestRunMissingFile(t *testing.T) {
	dir := t.TempDir()
	status := run("", filepath.Join(dir, "absent.env"), "workerpool", []string{filepath.Join(dir, "missing.txt")})
	assert.Equal(t, 1, status)
}

func TestRunBadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "aio.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("bogus_key = 1\n"), 0o644))
	status := run(cfg, "", "", []string{cfg})
	assert.Equal(t, 1, status)
}
