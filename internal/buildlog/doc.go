// Package buildlog reads the per-build log files cbuildbot writes.
//
// Reads are offset based so callers can print the last lines of a log and
// then poll for appended output while a build is still running.
package buildlog
