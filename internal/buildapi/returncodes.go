package buildapi

// Return codes reported by endpoints and the build_api process.
const (
	ReturnCodeSuccess                       = 0
	ReturnCodeUnrecoverable                 = 1
	ReturnCodeUnsuccessfulResponseAvailable = 2
	ReturnCodeCompletedUnsuccessfully       = 3

	ReturnCodeValidInput   = 0
	ReturnCodeInvalidInput = 1
)
