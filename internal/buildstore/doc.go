// Package buildstore persists cbuildbot build and stage history in SQLite.
//
// The database lives at config.BuildStorePath and is created on first use
// from the embedded schema. Each builder run inserts a row into builds when
// it starts; every stage result is appended to stages as it completes; the
// build row is finalized with the overall status when the run returns.
// Builds left in the running state by a crashed process are swept to aborted
// by ResetInflight at the start of the next run.
package buildstore
