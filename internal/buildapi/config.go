package buildapi

import (
	"fmt"

	"chromite/internal/services"
)

// CallType selects how a call is handled.
type CallType int

// Call types. The wire value CallTypeNone is treated as an execute call.
const (
	CallTypeNone CallType = iota
	CallTypeExecute
	CallTypeValidateOnly
	CallTypeMockSuccess
	CallTypeMockFailure
	CallTypeMockInvalid
)

var callTypeNames = map[CallType]string{
	CallTypeNone:         "none",
	CallTypeExecute:      "execute",
	CallTypeValidateOnly: "validate-only",
	CallTypeMockSuccess:  "mock-success",
	CallTypeMockFailure:  "mock-failure",
	CallTypeMockInvalid:  "mock-invalid",
}

func (c CallType) String() string {
	if name, ok := callTypeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CallType(%d)", int(c))
}

// ParseCallType accepts the names printed by String.
func ParseCallType(s string) (CallType, error) {
	for ct, name := range callTypeNames {
		if name == s {
			return ct, nil
		}
	}
	return 0, services.Wrap(services.ErrValidation, "buildapi", "config", fmt.Sprintf("unknown call type %q", s), nil)
}

// ConfigMessage is the serialized call configuration.
type ConfigMessage struct {
	CallType CallType `json:"call_type,omitempty"`
	LogPath  string   `json:"log_path,omitempty"`
}

// Config is the call configuration endpoints see.
type Config struct {
	CallType CallType
	LogPath  string
}

// NewConfig returns an execute config.
func NewConfig() Config {
	return Config{CallType: CallTypeExecute}
}

// ConfigFromMessage validates a config message. Unknown call types are
// rejected.
func ConfigFromMessage(msg ConfigMessage) (Config, error) {
	ct := msg.CallType
	switch ct {
	case CallTypeNone:
		ct = CallTypeExecute
	case CallTypeExecute, CallTypeValidateOnly, CallTypeMockSuccess, CallTypeMockFailure, CallTypeMockInvalid:
	default:
		return Config{}, services.Wrap(services.ErrValidation, "buildapi", "config",
			"The given call_type value is not configured in the Build API config.", nil)
	}
	return Config{CallType: ct, LogPath: msg.LogPath}, nil
}

// DoValidation is false for every mock call.
func (c Config) DoValidation() bool {
	return !(c.MockCall() || c.MockError() || c.MockInvalid())
}

func (c Config) ValidateOnly() bool { return c.CallType == CallTypeValidateOnly }

func (c Config) MockCall() bool { return c.CallType == CallTypeMockSuccess }

func (c Config) MockError() bool { return c.CallType == CallTypeMockFailure }

func (c Config) MockInvalid() bool { return c.CallType == CallTypeMockInvalid }

// RunEndpoint is true when no special call type applies.
func (c Config) RunEndpoint() bool {
	return !c.ValidateOnly() && !c.MockCall() && !c.MockError() && !c.MockInvalid()
}

// Message serializes the config. Fields only meaningful to the outermost
// process, such as the log path, are dropped when forInside is set.
func (c Config) Message(forInside bool) ConfigMessage {
	ct := c.CallType
	if ct == CallTypeNone {
		ct = CallTypeExecute
	}
	msg := ConfigMessage{CallType: ct}
	if !forInside {
		msg.LogPath = c.LogPath
	}
	return msg
}
