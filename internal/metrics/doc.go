// Package metrics records cbuildbot stage and build observations.
//
// Builders talk to the Recorder interface; the Prometheus implementation
// exports histograms and counters under the chromite namespace and Handler
// serves them for scraping. Noop is used when no metrics address is set.
package metrics
