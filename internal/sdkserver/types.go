package sdkserver

import "encoding/json"

// CallRequest invokes one endpoint.
type CallRequest struct {
	Service string          `json:"service"`
	Method  string          `json:"method"`
	Input   json.RawMessage `json:"input,omitempty"`
	// CallType is the wire call type; zero executes the endpoint.
	CallType  int    `json:"call_type,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// CallResponse is the endpoint's return code and output message. Error is
// set when the call failed before or during dispatch.
type CallResponse struct {
	ReturnCode int             `json:"return_code"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	RequestID  string          `json:"request_id"`
}

// ListMethodsRequest has no fields.
type ListMethodsRequest struct{}

// ListMethodsResponse lists the visible service/method names.
type ListMethodsResponse struct {
	Methods []string `json:"methods"`
}
