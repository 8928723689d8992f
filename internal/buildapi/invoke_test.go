package buildapi

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromite/internal/services"
)

func TestSplitServiceMethod(t *testing.T) {
	svc, method, err := SplitServiceMethod("chromite.api.ImageService/Create")
	require.NoError(t, err)
	assert.Equal(t, "chromite.api.ImageService", svc)
	assert.Equal(t, "Create", method)

	for _, bad := range []string{"", "chromite.api.ImageService", "/Create", "a/b/c"} {
		_, _, err := SplitServiceMethod(bad)
		assert.ErrorIs(t, err, services.ErrValidation, bad)
	}
}

func TestInvocationHandlers(t *testing.T) {
	in, outs, cfg, err := Invocation{InputBinary: "in.bin", OutputJSON: "out.json", OutputBinary: "out.bin"}.Handlers()
	require.NoError(t, err)
	assert.True(t, in.Binary)
	require.Len(t, outs, 2)
	assert.Equal(t, "--output-json", outs[0].OutputArg)
	assert.Equal(t, "--output-binary", outs[1].OutputArg)
	assert.Nil(t, cfg)

	_, _, _, err = Invocation{OutputJSON: "out.json"}.Handlers()
	assert.ErrorIs(t, err, services.ErrValidation)
	_, _, _, err = Invocation{InputJSON: "a", InputBinary: "b", OutputJSON: "o"}.Handlers()
	assert.ErrorIs(t, err, services.ErrValidation)
	_, _, _, err = Invocation{InputJSON: "a"}.Handlers()
	assert.ErrorIs(t, err, services.ErrValidation)
	_, _, _, err = Invocation{InputJSON: "a", OutputJSON: "o", ConfigJSON: "c", ConfigBinary: "d"}.Handlers()
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestInvokeRoutesCall(t *testing.T) {
	f := newRouterFixture(t, ServiceOptions{}, nil)
	input := filepath.Join(f.dir, "in.json")
	output := filepath.Join(f.dir, "out.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"name":"eve"}`), 0o644))

	rc, err := Invoke(context.Background(), f.router, Invocation{
		ServiceMethod: testService + "/Hello",
		InputJSON:     input,
		OutputJSON:    output,
	})
	require.NoError(t, err)
	assert.Equal(t, ReturnCodeSuccess, rc)
	var resp testResponse
	readJSON(t, output, &resp)
	assert.Equal(t, "hello eve", resp.Message)
}

func TestInvokeHonorsConfig(t *testing.T) {
	f := newRouterFixture(t, ServiceOptions{}, nil)
	input := filepath.Join(f.dir, "in.json")
	config := filepath.Join(f.dir, "config.json")
	require.NoError(t, os.WriteFile(input, []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(config, []byte(`{"call_type":2}`), 0o644))

	rc, err := Invoke(context.Background(), f.router, Invocation{
		ServiceMethod: testService + "/Hello",
		InputJSON:     input,
		OutputJSON:    filepath.Join(f.dir, "out.json"),
		ConfigJSON:    config,
	})
	require.Error(t, err)
	assert.Equal(t, ReturnCodeInvalidInput, rc)
	assert.False(t, f.ran)
}

func TestInvokeMissingInputFile(t *testing.T) {
	f := newRouterFixture(t, ServiceOptions{}, nil)
	rc, err := Invoke(context.Background(), f.router, Invocation{
		ServiceMethod: testService + "/Hello",
		InputJSON:     filepath.Join(f.dir, "missing.json"),
		OutputJSON:    filepath.Join(f.dir, "out.json"),
	})
	require.ErrorIs(t, err, ErrInvalidInputFile)
	assert.Equal(t, ReturnCodeUnrecoverable, rc)
}
