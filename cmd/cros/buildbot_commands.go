package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"chromite/internal/builderconfig"
	"chromite/internal/buildlog"
	"chromite/internal/buildstore"
	"chromite/internal/cbuildbot"
	"chromite/internal/cbuildbot/stages"
	"chromite/internal/logging"
	"chromite/internal/metrics"
	"chromite/internal/notifications"
)

func newBuildbotCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buildbot",
		Short: "Run builders and inspect build history",
	}
	cmd.AddCommand(newBuildbotRunCommand(ctx))
	cmd.AddCommand(newBuildbotListCommand(ctx))
	cmd.AddCommand(newBuildbotHistoryCommand(ctx))
	cmd.AddCommand(newBuildbotShowCommand(ctx))
	cmd.AddCommand(newBuildbotLogsCommand(ctx))
	cmd.AddCommand(newBuildbotTestNotifyCommand(ctx))
	return cmd
}

func newBuildbotRunCommand(ctx *commandContext) *cobra.Command {
	var opts cbuildbot.Options
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run <builder>",
		Short: "Run a builder from the site config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			defer ctx.close()

			site, err := builderconfig.Load(cfg.Buildbot.SiteConfig)
			if err != nil {
				return err
			}
			builder, err := site.Lookup(args[0])
			if err != nil {
				return err
			}

			store, err := buildstore.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			notifier, err := notifications.NewService(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = notifications.Close(notifier) }()

			registry := prom.NewRegistry()
			recorder := metrics.NewPrometheusRecorder(registry)
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = cfg.Buildbot.MetricsAddr
			}
			if strings.TrimSpace(metricsAddr) != "" {
				stop, err := serveMetrics(metricsAddr, registry)
				if err != nil {
					return err
				}
				defer stop()
				logger.Info("serving metrics", logging.String("addr", metricsAddr))
			}

			builders := cbuildbot.NewRegistry()
			stages.Register(builders)

			exec := &cbuildbot.Executor{
				Env: cbuildbot.Env{
					Config:   cfg,
					Commands: ctx.commandRunner(logger),
					OpenGS:   ctx.openGS,
					Logger:   logger,
				},
				Registry: builders,
				Store:    store,
				Metrics:  recorder,
				Notifier: notifier,
				Report:   cmd.OutOrStdout(),
			}
			_, err = exec.Run(cmd.Context(), builder, opts)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Buildroot, "buildroot", "", "Build root directory (default from config)")
	flags.StringSliceVar(&opts.Boards, "board", nil, "Board to build instead of the builder's list (repeatable)")
	flags.StringVar(&opts.Version, "version", "", "Version string recorded for the build")
	flags.BoolVar(&opts.DryRun, "dry-run", false, "Skip uploads and other externally visible side effects")
	flags.BoolVar(&opts.Debug, "debug-build", false, "Produce debug artifacts such as verbose symbol generation")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while building")
	return cmd
}

// serveMetrics exposes registry over HTTP until the returned stop is called.
func serveMetrics(addr string, registry *prom.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		_ = srv.Serve(ln)
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

func newBuildbotListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List builders in the site config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			site, err := builderconfig.Load(cfg.Buildbot.SiteConfig)
			if err != nil {
				return err
			}
			var builders []builderconfig.Builder
			for _, name := range site.Names() {
				b, err := site.Lookup(name)
				if err != nil {
					return err
				}
				builders = append(builders, b)
			}
			if asJSON {
				return writeJSON(cmd, builders)
			}
			rows := make([][]string, 0, len(builders))
			for _, b := range builders {
				rows = append(rows, []string{b.Name, b.Class, strings.Join(b.Boards, ","), strings.Join(b.ImageTypes(), ","), b.Description})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, []string{"Builder", "Class", "Boards", "Images", "Description"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

type buildView struct {
	ID         int64    `json:"id"`
	UUID       string   `json:"uuid"`
	Builder    string   `json:"builder"`
	Buildroot  string   `json:"buildroot"`
	Boards     []string `json:"boards"`
	Status     string   `json:"status"`
	Summary    string   `json:"summary,omitempty"`
	StartedAt  string   `json:"started_at"`
	FinishedAt string   `json:"finished_at,omitempty"`
	Duration   string   `json:"duration,omitempty"`
}

func newBuildView(b *buildstore.Build) buildView {
	v := buildView{
		ID:        b.ID,
		UUID:      b.UUID,
		Builder:   b.Builder,
		Buildroot: b.Buildroot,
		Boards:    b.Boards,
		Status:    string(b.Status),
		Summary:   b.Summary,
		StartedAt: b.StartedAt.UTC().Format(time.RFC3339),
	}
	if b.Finished() {
		v.FinishedAt = b.FinishedAt.UTC().Format(time.RFC3339)
		v.Duration = b.Duration().Round(time.Second).String()
	}
	return v
}

func newBuildbotHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := buildstore.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			builds, err := store.ListBuilds(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				views := make([]buildView, 0, len(builds))
				for _, b := range builds {
					views = append(views, newBuildView(b))
				}
				return writeJSON(cmd, views)
			}
			out := cmd.OutOrStdout()
			if len(builds) == 0 {
				fmt.Fprintln(out, "No builds recorded")
				return nil
			}
			rows := make([][]string, 0, len(builds))
			for _, b := range builds {
				duration := "running"
				if b.Finished() {
					duration = b.Duration().Round(time.Second).String()
				}
				rows = append(rows, []string{
					strconv.FormatInt(b.ID, 10),
					b.Builder,
					string(b.Status),
					strings.Join(b.Boards, ","),
					humanize.Time(b.StartedAt),
					duration,
				})
			}
			fmt.Fprintln(out, renderTable(out, []string{"ID", "Builder", "Status", "Boards", "Started", "Duration"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum builds to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func newBuildbotShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <build-id>",
		Short: "Show a build and its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid build id %q", args[0])
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := buildstore.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			build, err := store.GetBuild(cmd.Context(), id)
			if err != nil {
				return err
			}
			stageRows, err := store.Stages(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Build %d (%s)\n", build.ID, build.UUID)
			fmt.Fprintf(out, "  Builder:   %s\n", build.Builder)
			fmt.Fprintf(out, "  Boards:    %s\n", strings.Join(build.Boards, ", "))
			fmt.Fprintf(out, "  Buildroot: %s\n", build.Buildroot)
			fmt.Fprintf(out, "  Status:    %s\n", build.Status)
			fmt.Fprintf(out, "  Started:   %s (%s)\n", build.StartedAt.Local().Format(time.DateTime), humanize.Time(build.StartedAt))
			if build.Finished() {
				fmt.Fprintf(out, "  Finished:  %s after %s\n", build.FinishedAt.Local().Format(time.DateTime), build.Duration().Round(time.Second))
			}
			if build.Summary != "" {
				fmt.Fprintf(out, "  Summary:   %s\n", build.Summary)
			}
			if len(stageRows) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(stageRows))
			for _, st := range stageRows {
				name := st.Name
				if st.Board != "" {
					name = fmt.Sprintf("%s [%s]", st.Name, st.Board)
				}
				rows = append(rows, []string{name, st.Status, st.Duration.Round(time.Second).String(), st.Description})
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderTable(out, []string{"Stage", "Result", "Duration", "Details"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
			return nil
		},
	}
}

func newBuildbotLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs <build-id>",
		Short: "Print a build's log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid build id %q", args[0])
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := buildstore.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			build, err := store.GetBuild(cmd.Context(), id)
			if err != nil {
				return err
			}
			path := cfg.BuildLogPath(build.UUID)
			out := cmd.OutOrStdout()

			chunk, err := buildlog.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range chunk.Lines {
				fmt.Fprintln(out, line)
			}
			if !follow || build.Finished() {
				return nil
			}

			finished := func() bool {
				current, err := store.GetBuild(cmd.Context(), id)
				return err != nil || current.Finished()
			}
			return buildlog.Follow(cmd.Context(), path, chunk.Offset, 500*time.Millisecond, finished, func(line string) error {
				_, err := fmt.Fprintln(out, line)
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing output until the build finishes")
	return cmd
}

func newBuildbotTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification to the configured backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			svc, err := notifications.NewService(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = notifications.Close(svc) }()

			out := cmd.OutOrStdout()
			if _, ok := svc.(notifications.Noop); ok {
				fmt.Fprintln(out, "No notification backends configured")
				return nil
			}
			if err := svc.TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("test notification failed: %w", err)
			}
			fmt.Fprintln(out, "Test notification sent")
			return nil
		},
	}
}
