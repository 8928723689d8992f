// Package cbuildbot runs builder configurations as a sequence of stages.
//
// A Builder decides which stages run and in what order; the Runner executes
// each one, enforcing the stage timeout, recording its Result, and emitting
// logs, metrics, build history rows, and failure notifications. Stages that
// fail abort the build with a *StepFailure unless they implement Forgivable,
// in which case the failure is recorded as Forgiven and the build carries on.
//
// Executor is the entry point used by `cros buildbot run`: it locks the
// buildroot, records the build in the build store, instantiates the builder
// registered for the config's builder_class, and prints the results table.
package cbuildbot
