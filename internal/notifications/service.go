package notifications

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"chromite/internal/config"
)

// Build identifies the builder run an event belongs to.
type Build struct {
	Builder string
	UUID    string
	Boards  []string
}

// Service defines the notification surface used by builders.
type Service interface {
	NotifyBuildStarted(ctx context.Context, build Build) error
	NotifyStageFailed(ctx context.Context, build Build, stage, board string, stageErr error) error
	NotifyBuildCompleted(ctx context.Context, build Build, success bool, duration time.Duration, failedStages []string) error
	TestNotification(ctx context.Context) error
}

// NewService builds the configured notifiers. A NATS connection failure is
// returned; an unset topic and URL yields Noop.
func NewService(cfg *config.Config) (Service, error) {
	n := cfg.Notifications
	var backends []Service
	if topic := strings.TrimSpace(n.NtfyTopic); topic != "" {
		timeout := time.Duration(n.RequestTimeout) * time.Second
		backends = append(backends, NewNtfy(topic, timeout))
	}
	if url := strings.TrimSpace(n.NATSURL); url != "" {
		natsSvc, err := ConnectNATS(url, n.NATSSubject)
		if err != nil {
			return nil, err
		}
		backends = append(backends, natsSvc)
	}
	if len(backends) == 0 {
		return Noop{}, nil
	}
	return &gated{
		next:            Multi(backends...),
		buildStart:      n.BuildStart,
		stageFailures:   n.StageFailures,
		buildCompletion: n.BuildCompletion,
	}, nil
}

// Multi fans every event out to each service and joins their errors.
func Multi(services ...Service) Service {
	if len(services) == 1 {
		return services[0]
	}
	return multi(services)
}

type multi []Service

func (m multi) each(fn func(Service) error) error {
	var errs []error
	for _, svc := range m {
		if err := fn(svc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) NotifyBuildStarted(ctx context.Context, build Build) error {
	return m.each(func(s Service) error { return s.NotifyBuildStarted(ctx, build) })
}

func (m multi) NotifyStageFailed(ctx context.Context, build Build, stage, board string, stageErr error) error {
	return m.each(func(s Service) error { return s.NotifyStageFailed(ctx, build, stage, board, stageErr) })
}

func (m multi) NotifyBuildCompleted(ctx context.Context, build Build, success bool, duration time.Duration, failedStages []string) error {
	return m.each(func(s Service) error {
		return s.NotifyBuildCompleted(ctx, build, success, duration, failedStages)
	})
}

func (m multi) TestNotification(ctx context.Context) error {
	return m.each(func(s Service) error { return s.TestNotification(ctx) })
}

func (m multi) Close() error { return m.each(Close) }

// Close releases connections held by svc, such as a NATS connection.
func Close(svc Service) error {
	if c, ok := svc.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// gated drops events whose toggle is off. Test notifications always pass.
type gated struct {
	next            Service
	buildStart      bool
	stageFailures   bool
	buildCompletion bool
}

func (g *gated) NotifyBuildStarted(ctx context.Context, build Build) error {
	if !g.buildStart {
		return nil
	}
	return g.next.NotifyBuildStarted(ctx, build)
}

func (g *gated) NotifyStageFailed(ctx context.Context, build Build, stage, board string, stageErr error) error {
	if !g.stageFailures {
		return nil
	}
	return g.next.NotifyStageFailed(ctx, build, stage, board, stageErr)
}

func (g *gated) NotifyBuildCompleted(ctx context.Context, build Build, success bool, duration time.Duration, failedStages []string) error {
	if !g.buildCompletion {
		return nil
	}
	return g.next.NotifyBuildCompleted(ctx, build, success, duration, failedStages)
}

func (g *gated) TestNotification(ctx context.Context) error {
	return g.next.TestNotification(ctx)
}

func (g *gated) Close() error { return Close(g.next) }

// Noop discards every event.
type Noop struct{}

func (Noop) NotifyBuildStarted(context.Context, Build) error                       { return nil }
func (Noop) NotifyStageFailed(context.Context, Build, string, string, error) error { return nil }
func (Noop) NotifyBuildCompleted(context.Context, Build, bool, time.Duration, []string) error {
	return nil
}
func (Noop) TestNotification(context.Context) error { return nil }

func boardsLabel(boards []string) string {
	if len(boards) == 0 {
		return "no boards"
	}
	return strings.Join(boards, ", ")
}

func durationText(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

func errorText(err error) string {
	if err == nil {
		return "unknown"
	}
	return strings.TrimSpace(err.Error())
}
