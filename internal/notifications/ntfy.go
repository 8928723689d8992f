package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "chromite-cbuildbot/1.0"

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// Ntfy posts plain-text notifications to an ntfy topic URL.
type Ntfy struct {
	endpoint string
	client   *http.Client
}

// NewNtfy targets the full topic URL. Non-positive timeouts use 10s.
func NewNtfy(endpoint string, timeout time.Duration) *Ntfy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ntfy{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (n *Ntfy) NotifyBuildStarted(ctx context.Context, build Build) error {
	return n.send(ctx, payload{
		title:   "cbuildbot - " + build.Builder + " started",
		message: fmt.Sprintf("Build %s started for %s", shortID(build.UUID), boardsLabel(build.Boards)),
		tags:    []string{"cbuildbot", "build", "started"},
	})
}

func (n *Ntfy) NotifyStageFailed(ctx context.Context, build Build, stage, board string, stageErr error) error {
	label := stage
	if board = strings.TrimSpace(board); board != "" {
		label = fmt.Sprintf("%s [%s]", stage, board)
	}
	return n.send(ctx, payload{
		title:    "cbuildbot - " + build.Builder + " stage failed",
		message:  fmt.Sprintf("Stage %s failed: %s", label, errorText(stageErr)),
		tags:     []string{"cbuildbot", "stage", "failed"},
		priority: "high",
	})
}

func (n *Ntfy) NotifyBuildCompleted(ctx context.Context, build Build, success bool, duration time.Duration, failedStages []string) error {
	data := payload{
		title:   "cbuildbot - " + build.Builder + " passed",
		message: fmt.Sprintf("Build %s passed in %s", shortID(build.UUID), durationText(duration)),
		tags:    []string{"cbuildbot", "build", "passed"},
	}
	if !success {
		data.title = "cbuildbot - " + build.Builder + " failed"
		data.message = fmt.Sprintf("Build %s failed after %s", shortID(build.UUID), durationText(duration))
		if len(failedStages) > 0 {
			data.message += "\nFailed stages: " + strings.Join(failedStages, ", ")
		}
		data.tags = []string{"cbuildbot", "build", "failed"}
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *Ntfy) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "cbuildbot - Test",
		message:  "Notification system test",
		tags:     []string{"cbuildbot", "test"},
		priority: "low",
	})
}

func (n *Ntfy) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
