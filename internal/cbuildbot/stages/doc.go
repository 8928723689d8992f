// Package stages holds the concrete cbuildbot stages and the builders that
// sequence them.
//
// Stages are small structs built from a *cbuildbot.Runner and cbuildbot.Env;
// board-specific stages also carry the board they act on. They communicate
// through the run's Attrs: SetupBoard records the sysroot, BuildImage the
// produced images, Archive the uploaded URLs, and Report folds everything
// into metadata.json.
package stages
