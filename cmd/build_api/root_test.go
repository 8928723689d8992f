package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromite/internal/buildapi"
	"chromite/internal/gs"
	"chromite/internal/testsupport"
)

func newTestApp(t *testing.T) (*app, string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t)
	data, err := toml.Marshal(cfg)
	require.NoError(t, err)
	configPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(configPath, data, 0o644))
	return &app{runner: testsupport.NewFakeRunner(), storage: gs.NewMemoryStorage()}, configPath
}

func execute(t *testing.T, a *app, args ...string) error {
	t.Helper()
	cmd := newRootCommand(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestCallWritesResponse(t *testing.T) {
	a, configPath := newTestApp(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.json")
	output := filepath.Join(dir, "out.json")
	testsupport.WriteText(t, input, "{}")

	err := execute(t, a, "chromite.api.ApiService/GetVersion", "--config", configPath,
		"--input-json", input, "--output-json", output)
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeSuccess, a.exitCode(err))
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"major":1`)
}

func TestCallReportsReturnCodes(t *testing.T) {
	a, configPath := newTestApp(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.json")
	output := filepath.Join(dir, "out.json")
	callConfig := filepath.Join(dir, "config.json")
	testsupport.WriteText(t, input, "{}")
	testsupport.WriteText(t, callConfig, `{"call_type": 5}`)

	err := execute(t, a, "chromite.api.ApiService/GetVersion", "--config", configPath,
		"--input-json", input, "--output-json", output, "--config-json", callConfig)
	require.NoError(t, err)
	assert.Equal(t, buildapi.ReturnCodeInvalidInput, a.exitCode(err))

	a, configPath = newTestApp(t)
	err = execute(t, a, "chromite.api.Missing/Method", "--config", configPath,
		"--input-json", input, "--output-json", output)
	require.Error(t, err)
	assert.Equal(t, buildapi.ReturnCodeUnrecoverable, a.exitCode(err))
}

func TestArgumentErrors(t *testing.T) {
	a, configPath := newTestApp(t)
	err := execute(t, a, "--config", configPath)
	require.Error(t, err)
	assert.Equal(t, buildapi.ReturnCodeUnrecoverable, a.exitCode(err))

	a, configPath = newTestApp(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.json")
	testsupport.WriteText(t, input, "{}")
	err = execute(t, a, "chromite.api.ApiService/GetVersion", "--config", configPath,
		"--input-json", input, "--input-binary", input, "--output-json", filepath.Join(dir, "out.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
	assert.Equal(t, buildapi.ReturnCodeUnrecoverable, a.exitCode(err))
}
