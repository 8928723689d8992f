// Package main hosts the cros CLI.
//
// The command tree covers Build API calls, cbuildbot builder runs and their
// history, the SDK socket server, and small inspection helpers for images,
// DLC artifacts, and Google Storage URLs. Wiring of config, logging, command
// runners, and storage lives in commandContext so subcommands stay thin.
package main
