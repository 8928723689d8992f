// Package sdkserver serves the Build API over JSON-RPC on a Unix socket and
// ships the matching client.
//
// A request carries its input message as JSON. The server routes it through
// the same router the build_api binary uses, so branched and in-SDK
// re-execution behave identically. Only one server may own a socket; a
// flock on "<socket>.lock" guards it.
package sdkserver
