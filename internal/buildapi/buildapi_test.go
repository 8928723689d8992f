package buildapi

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	Category string `json:"category,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

type testRequest struct {
	Chroot      *Chroot      `json:"chroot,omitempty"`
	Name        string       `json:"name,omitempty"`
	Count       int          `json:"count,omitempty"`
	BuildTarget *BuildTarget `json:"build_target,omitempty"`
	Items       []testItem   `json:"items,omitempty"`
	Flags       []string     `json:"flags,omitempty"`
	Input       Path         `json:"input"`
	ResultPath  *ResultPath  `json:"result_path,omitempty"`
}

type testResponse struct {
	Message  string `json:"message,omitempty"`
	Artifact Path   `json:"artifact"`
}

func called(flag *bool) Handler {
	return func(context.Context, any, any, Config) (int, error) {
		*flag = true
		return ReturnCodeSuccess, nil
	}
}

func TestConfigFromMessage(t *testing.T) {
	cfg, err := ConfigFromMessage(ConfigMessage{})
	require.NoError(t, err)
	assert.Equal(t, CallTypeExecute, cfg.CallType)
	assert.True(t, cfg.RunEndpoint())
	assert.True(t, cfg.DoValidation())

	cfg, err = ConfigFromMessage(ConfigMessage{CallType: CallTypeValidateOnly, LogPath: "/tmp/log"})
	require.NoError(t, err)
	assert.True(t, cfg.ValidateOnly())
	assert.True(t, cfg.DoValidation())
	assert.False(t, cfg.RunEndpoint())
	assert.Equal(t, ConfigMessage{CallType: CallTypeValidateOnly}, cfg.Message(true))
	assert.Equal(t, ConfigMessage{CallType: CallTypeValidateOnly, LogPath: "/tmp/log"}, cfg.Message(false))

	for _, ct := range []CallType{CallTypeMockSuccess, CallTypeMockFailure, CallTypeMockInvalid} {
		cfg, err := ConfigFromMessage(ConfigMessage{CallType: ct})
		require.NoError(t, err)
		assert.False(t, cfg.DoValidation(), ct.String())
		assert.False(t, cfg.RunEndpoint(), ct.String())
	}

	_, err = ConfigFromMessage(ConfigMessage{CallType: CallType(42)})
	require.Error(t, err)
}

func TestParseCallType(t *testing.T) {
	ct, err := ParseCallType("mock-failure")
	require.NoError(t, err)
	assert.Equal(t, CallTypeMockFailure, ct)
	_, err = ParseCallType("bogus")
	require.Error(t, err)
}

func TestJSONMessageHandler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"eve","unknown_field":true,"items":[{"category":"a"}]}`), 0o644))

	h, err := MessageHandlerFor(path, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "--input-json", h.InputArg)

	var req testRequest
	require.NoError(t, h.ReadInto(&req, ""))
	assert.Equal(t, "eve", req.Name)
	assert.Equal(t, []testItem{{Category: "a"}}, req.Items)

	out := filepath.Join(dir, "output.json")
	require.NoError(t, h.WriteFrom(&testResponse{Message: "ok"}, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, `{"message":"ok","artifact":{}}`, string(data))
}

func TestMessageHandlerErrors(t *testing.T) {
	dir := t.TempDir()
	h, err := MessageHandlerFor("", FormatJSON)
	require.NoError(t, err)

	var req testRequest
	assert.ErrorIs(t, h.ReadInto(&req, ""), ErrInvalidInputFile)
	assert.ErrorIs(t, h.ReadInto(&req, filepath.Join(dir, "missing.json")), ErrInvalidInputFile)
	assert.ErrorIs(t, h.WriteFrom(&req, ""), ErrInvalidOutputFile)
	assert.ErrorIs(t, h.WriteFrom(&req, filepath.Join(dir, "no", "such", "dir.json")), ErrInvalidOutputFile)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	assert.ErrorIs(t, h.ReadInto(&req, bad), ErrInvalidInputFormat)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	req.Name = "kept"
	require.NoError(t, h.ReadInto(&req, empty))
	assert.Equal(t, "kept", req.Name)

	_, err = MessageHandlerFor("x", Format(9))
	require.Error(t, err)
}

func TestBinaryMessageHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msg.bin")
	h, err := MessageHandlerFor(path, FormatBinary)
	require.NoError(t, err)
	assert.True(t, h.Binary)
	assert.Equal(t, "--output-binary", h.OutputArg)

	in := testRequest{
		Name:        "eve",
		Count:       3,
		BuildTarget: &BuildTarget{Name: "eve", Profile: &Profile{Name: "base"}},
		Input:       Path{Path: "/tmp/x", Location: LocationInside},
	}
	require.NoError(t, h.WriteFrom(&in, ""))
	var out testRequest
	require.NoError(t, h.ReadInto(&out, ""))
	assert.Equal(t, in, out)
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, req, resp any, cfg Config) (int, error) {
				order = append(order, name)
				return next(ctx, req, resp, cfg)
			}
		}
	}
	h := Chain(func(context.Context, any, any, Config) (int, error) {
		order = append(order, "endpoint")
		return ReturnCodeSuccess, nil
	}, mw("outer"), mw("inner"))
	_, err := h(context.Background(), nil, nil, NewConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "endpoint"}, order)
}

func TestImplTypeMismatch(t *testing.T) {
	h := Impl(func(context.Context, *testRequest, *testResponse, Config) (int, error) {
		return ReturnCodeSuccess, nil
	})
	rc, err := h(context.Background(), &testResponse{}, &testResponse{}, NewConfig())
	require.Error(t, err)
	assert.Equal(t, ReturnCodeUnrecoverable, rc)

	rc, err = h(context.Background(), &testRequest{}, &testResponse{}, NewConfig())
	require.NoError(t, err)
	assert.Equal(t, ReturnCodeSuccess, rc)
}
