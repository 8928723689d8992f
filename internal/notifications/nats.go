package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is the JSON document published for every build event.
type Event struct {
	Type            string    `json:"type"`
	Builder         string    `json:"builder,omitempty"`
	BuildUUID       string    `json:"build_uuid,omitempty"`
	Boards          []string  `json:"boards,omitempty"`
	Stage           string    `json:"stage,omitempty"`
	Board           string    `json:"board,omitempty"`
	Error           string    `json:"error,omitempty"`
	Success         *bool     `json:"success,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	FailedStages    []string  `json:"failed_stages,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	EventBuildStarted   = "build_started"
	EventStageFailed    = "stage_failed"
	EventBuildCompleted = "build_completed"
	EventTest           = "test"
)

// Publisher is the subset of *nats.Conn used to emit events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes build events to <subject>.<type>.
type NATS struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	now     func() time.Time
}

// ConnectNATS dials the server and returns a publisher bound to subject.
func ConnectNATS(url, subject string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("chromite-cbuildbot"), nats.MaxReconnects(5))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	n := NewNATS(conn, subject)
	n.conn = conn
	return n, nil
}

// NewNATS wraps an existing publisher.
func NewNATS(pub Publisher, subject string) *NATS {
	subject = strings.TrimSuffix(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = "chromite.builds"
	}
	return &NATS{pub: pub, subject: subject, now: time.Now}
}

// Close drains the owned connection, if any.
func (n *NATS) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

func (n *NATS) NotifyBuildStarted(ctx context.Context, build Build) error {
	return n.publish(ctx, Event{Type: EventBuildStarted, Builder: build.Builder, BuildUUID: build.UUID, Boards: build.Boards})
}

func (n *NATS) NotifyStageFailed(ctx context.Context, build Build, stage, board string, stageErr error) error {
	return n.publish(ctx, Event{
		Type: EventStageFailed, Builder: build.Builder, BuildUUID: build.UUID,
		Stage: stage, Board: board, Error: errorText(stageErr),
	})
}

func (n *NATS) NotifyBuildCompleted(ctx context.Context, build Build, success bool, duration time.Duration, failedStages []string) error {
	return n.publish(ctx, Event{
		Type: EventBuildCompleted, Builder: build.Builder, BuildUUID: build.UUID, Boards: build.Boards,
		Success: &success, DurationSeconds: duration.Seconds(), FailedStages: failedStages,
	})
}

func (n *NATS) TestNotification(ctx context.Context) error {
	return n.publish(ctx, Event{Type: EventTest})
}

func (n *NATS) publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event.Timestamp = n.now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	subject := n.subject + "." + event.Type
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
