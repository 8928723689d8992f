// Package buildapi dispatches Build API calls: it reads request messages,
// applies call configuration (validate-only and mock calls), routes to the
// registered endpoint, and re-executes the call on the branched build_api or
// inside the SDK when the endpoint requires it.
//
// Endpoints are plain Go functions over request and response structs.
// Validation and canned ("faux") responses are layered on as middleware.
package buildapi
