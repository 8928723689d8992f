package buildapi

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromite/internal/testsupport"
)

func runValidator(t *testing.T, mw Middleware, req *testRequest, cfg Config) (int, bool, error) {
	t.Helper()
	var ran bool
	rc, err := mw(called(&ran))(context.Background(), req, &testResponse{}, cfg)
	return rc, ran, err
}

func requireInvalid(t *testing.T, mw Middleware, req *testRequest, want string) {
	t.Helper()
	rc, ran, err := runValidator(t, mw, req, NewConfig())
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, want, verr.Msg)
	assert.Equal(t, ReturnCodeInvalidInput, rc)
	assert.Equal(t, ReturnCodeInvalidInput, ReturnCodeForError(err))
	assert.False(t, ran, "endpoint must not run after a validation failure")
}

func requireValid(t *testing.T, mw Middleware, req *testRequest) {
	t.Helper()
	_, ran, err := runValidator(t, mw, req, NewConfig())
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRequire(t *testing.T) {
	mw := Require("name", "build_target.name")
	requireInvalid(t, mw, &testRequest{}, "name is required.")
	requireInvalid(t, mw, &testRequest{Name: "x"}, "build_target.name is required.")
	requireInvalid(t, mw, &testRequest{Name: "x", BuildTarget: &BuildTarget{}}, "build_target.name is required.")
	requireValid(t, mw, &testRequest{Name: "x", BuildTarget: &BuildTarget{Name: "eve"}})
}

func TestRequireAny(t *testing.T) {
	mw := RequireAny("name", "count")
	requireInvalid(t, mw, &testRequest{}, "At least one of the following must be set: name, count")
	requireValid(t, mw, &testRequest{Count: 1})
}

func TestRequireEach(t *testing.T) {
	mw := RequireEach("items", []string{"category", "kind"}, true)
	requireValid(t, mw, &testRequest{})
	requireInvalid(t, mw, &testRequest{Items: []testItem{{Category: "a", Kind: "b"}, {Category: "c"}}}, "items is required.")
	requireValid(t, mw, &testRequest{Items: []testItem{{Category: "a", Kind: "b"}}})

	requireInvalid(t, RequireEach("items", []string{"kind"}, false), &testRequest{}, "The items field is empty.")
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "present")
	testsupport.WriteText(t, file, "x")

	mw := Exists("name", "input")
	requireInvalid(t, mw, &testRequest{Name: filepath.Join(dir, "absent")}, "name path does not exist: "+filepath.Join(dir, "absent"))
	requireInvalid(t, mw, &testRequest{}, "name path does not exist: ")
	requireValid(t, mw, &testRequest{Name: file, Input: Path{Path: dir, Location: LocationOutside}})
}

func TestEqAndIsIn(t *testing.T) {
	requireInvalid(t, Eq("name", "eve"), &testRequest{Name: "kevin"}, "name ('kevin') must be equal to 'eve'")
	requireValid(t, Eq("count", 2), &testRequest{Count: 2})
	requireInvalid(t, Eq("build_target.name", "eve"), &testRequest{}, "build_target.name (None) must be equal to 'eve'")

	requireInvalid(t, IsIn("input.location", []PathLocation{LocationOutside}), &testRequest{},
		"input.location (0) must be in [2]")
	requireValid(t, IsIn("name", []string{"a", "b"}), &testRequest{Name: "b"})
}

func TestEachIn(t *testing.T) {
	mw := EachIn("items", "kind", []string{"base", "test"}, false)
	requireInvalid(t, mw, &testRequest{}, "The items field is empty.")
	requireInvalid(t, mw, &testRequest{Items: []testItem{{Kind: "base"}, {Kind: "dev"}}},
		"items.[each].kind ('dev') must be in ['base', 'test'] is required.")
	requireValid(t, mw, &testRequest{Items: []testItem{{Kind: "test"}}})

	requireValid(t, EachIn("flags", "", []string{"a"}, true), &testRequest{})
	requireInvalid(t, EachIn("flags", "", []string{"a"}, true), &testRequest{Flags: []string{"b"}},
		"flags.[each]. ('b') must be in ['a'] is required.")
}

func TestCheckConstraint(t *testing.T) {
	noSpaces := Constraint{
		Description: "no spaces",
		Check: func(v any) string {
			if strings.Contains(v.(string), " ") {
				return "contains a space"
			}
			return ""
		},
	}
	mw := CheckConstraint("flags", noSpaces)
	requireValid(t, mw, &testRequest{Flags: []string{"a", "b"}})
	requireInvalid(t, mw, &testRequest{Flags: []string{"a b", "ok", "c d"}},
		"flags.[all] one or more values failed check \"no spaces\"\n  a b: contains a space\n  c d: contains a space\n")
}

func TestValidatorsSkippedForMockCalls(t *testing.T) {
	cfg := Config{CallType: CallTypeMockSuccess}
	rc, ran, err := runValidator(t, Require("name"), &testRequest{}, cfg)
	require.NoError(t, err)
	assert.Equal(t, ReturnCodeSuccess, rc)
	assert.True(t, ran)
}

func TestValidationComplete(t *testing.T) {
	var ran bool
	h := Chain(called(&ran), Require("name"), ValidationComplete)

	rc, err := h(context.Background(), &testRequest{Name: "x"}, &testResponse{}, Config{CallType: CallTypeValidateOnly})
	require.NoError(t, err)
	assert.Equal(t, ReturnCodeValidInput, rc)
	assert.False(t, ran)

	_, err = h(context.Background(), &testRequest{}, &testResponse{}, Config{CallType: CallTypeValidateOnly})
	require.Error(t, err)

	_, err = h(context.Background(), &testRequest{Name: "x"}, &testResponse{}, NewConfig())
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestFaux(t *testing.T) {
	fill := Fill(func(_ *testRequest, resp *testResponse, _ Config) { resp.Message = "faux" })
	var ran bool
	tests := []struct {
		name     string
		handler  Handler
		callType CallType
		wantRC   int
		wantMsg  string
		wantRun  bool
	}{
		{name: "success factory", handler: Success(fill)(called(&ran)), callType: CallTypeMockSuccess, wantRC: ReturnCodeSuccess, wantMsg: "faux"},
		{name: "empty success", handler: EmptySuccess(called(&ran)), callType: CallTypeMockSuccess, wantRC: ReturnCodeSuccess},
		{name: "error factory", handler: Error(fill)(called(&ran)), callType: CallTypeMockFailure, wantRC: ReturnCodeUnsuccessfulResponseAvailable, wantMsg: "faux"},
		{name: "empty error", handler: EmptyError(called(&ran)), callType: CallTypeMockFailure, wantRC: ReturnCodeUnrecoverable},
		{name: "completed unsuccessfully", handler: EmptyCompletedUnsuccessfullyError(called(&ran)), callType: CallTypeMockFailure, wantRC: ReturnCodeCompletedUnsuccessfully},
		{name: "all empty failure", handler: AllEmpty(called(&ran)), callType: CallTypeMockFailure, wantRC: ReturnCodeUnrecoverable},
		{name: "all responses failure", handler: AllResponses(fill)(called(&ran)), callType: CallTypeMockFailure, wantRC: ReturnCodeUnsuccessfulResponseAvailable, wantMsg: "faux"},
		{name: "execute passes through", handler: AllResponses(fill)(called(&ran)), callType: CallTypeExecute, wantRC: ReturnCodeSuccess, wantRun: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ran = false
			resp := &testResponse{}
			rc, err := tc.handler(context.Background(), &testRequest{}, resp, Config{CallType: tc.callType})
			require.NoError(t, err)
			assert.Equal(t, tc.wantRC, rc)
			assert.Equal(t, tc.wantMsg, resp.Message)
			assert.Equal(t, tc.wantRun, ran)
		})
	}
}
