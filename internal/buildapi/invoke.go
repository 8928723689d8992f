package buildapi

import (
	"context"
	"fmt"
	"strings"

	"chromite/internal/services"
)

// Invocation holds the arguments of one build_api call.
type Invocation struct {
	ServiceMethod string
	InputJSON     string
	InputBinary   string
	OutputJSON    string
	OutputBinary  string
	ConfigJSON    string
	ConfigBinary  string
}

// SplitServiceMethod splits "chromite.api.Service/Method".
func SplitServiceMethod(s string) (string, string, error) {
	service, method, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || service == "" || method == "" || strings.Contains(method, "/") {
		return "", "", services.Wrap(services.ErrValidation, "buildapi", "parse",
			fmt.Sprintf("invalid service/method %q; expected e.g. chromite.api.ApiService/MethodGet", s), nil)
	}
	return service, method, nil
}

// Handlers builds the message handlers for the invocation. Exactly one
// input and at most one config format may be given; at least one output is
// required and both output formats may be written at once.
func (inv Invocation) Handlers() (input *MessageHandler, outputs []*MessageHandler, config *MessageHandler, err error) {
	input, err = exactlyOne("input", inv.InputJSON, inv.InputBinary, true)
	if err != nil {
		return nil, nil, nil, err
	}
	config, err = exactlyOne("config", inv.ConfigJSON, inv.ConfigBinary, false)
	if err != nil {
		return nil, nil, nil, err
	}
	if inv.OutputJSON != "" {
		h, _ := MessageHandlerFor(inv.OutputJSON, FormatJSON)
		outputs = append(outputs, h)
	}
	if inv.OutputBinary != "" {
		h, _ := MessageHandlerFor(inv.OutputBinary, FormatBinary)
		outputs = append(outputs, h)
	}
	if len(outputs) == 0 {
		return nil, nil, nil, services.Wrap(services.ErrValidation, "buildapi", "parse",
			"an output file is required (--output-json or --output-binary)", nil)
	}
	return input, outputs, config, nil
}

func exactlyOne(kind, jsonPath, binaryPath string, required bool) (*MessageHandler, error) {
	switch {
	case jsonPath != "" && binaryPath != "":
		return nil, services.Wrap(services.ErrValidation, "buildapi", "parse",
			fmt.Sprintf("--%s-json and --%s-binary are mutually exclusive", kind, kind), nil)
	case jsonPath != "":
		return MessageHandlerFor(jsonPath, FormatJSON)
	case binaryPath != "":
		return MessageHandlerFor(binaryPath, FormatBinary)
	case required:
		return nil, services.Wrap(services.ErrValidation, "buildapi", "parse",
			fmt.Sprintf("an %s file is required (--%s-json or --%s-binary)", kind, kind, kind), nil)
	}
	return nil, nil
}

// ReadConfig loads the call config from h. A nil handler yields an execute
// call.
func ReadConfig(h *MessageHandler) (Config, error) {
	if h == nil {
		return NewConfig(), nil
	}
	var msg ConfigMessage
	if err := h.ReadInto(&msg, ""); err != nil {
		return Config{}, err
	}
	return ConfigFromMessage(msg)
}

// Invoke parses inv and routes it. The returned code is the process exit
// code; err describes why the call could not complete.
func Invoke(ctx context.Context, r *Router, inv Invocation) (int, error) {
	service, method, err := SplitServiceMethod(inv.ServiceMethod)
	if err != nil {
		return ReturnCodeUnrecoverable, err
	}
	input, outputs, configHandler, err := inv.Handlers()
	if err != nil {
		return ReturnCodeUnrecoverable, err
	}
	cfg, err := ReadConfig(configHandler)
	if err != nil {
		return ReturnCodeUnrecoverable, err
	}
	rc, err := r.Route(ctx, service, method, cfg, input, outputs, configHandler)
	if err != nil && rc == ReturnCodeSuccess {
		rc = ReturnCodeForError(err)
	}
	return rc, err
}
