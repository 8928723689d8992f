package notifications_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromite/internal/config"
	"chromite/internal/notifications"
)

type ntfyRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T) (*httptest.Server, func() []ntfyRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		received []ntfyRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, ntfyRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, func() []ntfyRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]ntfyRequest(nil), received...)
	}
}

var build = notifications.Build{Builder: "eve-release", UUID: "0123456789abcdef", Boards: []string{"eve", "kevin"}}

func TestNewServiceReturnsNoopWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	svc, err := notifications.NewService(&cfg)
	require.NoError(t, err)
	assert.IsType(t, notifications.Noop{}, svc)
	assert.NoError(t, svc.NotifyBuildStarted(context.Background(), build))
}

func TestNtfyFormatsPayloads(t *testing.T) {
	tests := []struct {
		name     string
		send     func(*notifications.Ntfy) error
		expected ntfyRequest
	}{
		{
			name: "build started",
			send: func(n *notifications.Ntfy) error { return n.NotifyBuildStarted(context.Background(), build) },
			expected: ntfyRequest{
				title: "cbuildbot - eve-release started",
				tags:  "cbuildbot,build,started",
				body:  "Build 01234567 started for eve, kevin",
			},
		},
		{
			name: "stage failed",
			send: func(n *notifications.Ntfy) error {
				return n.NotifyStageFailed(context.Background(), build, "BuildPackages", "eve", errors.New("emerge failed "))
			},
			expected: ntfyRequest{
				title:    "cbuildbot - eve-release stage failed",
				tags:     "cbuildbot,stage,failed",
				priority: "high",
				body:     "Stage BuildPackages [eve] failed: emerge failed",
			},
		},
		{
			name: "build passed",
			send: func(n *notifications.Ntfy) error {
				return n.NotifyBuildCompleted(context.Background(), build, true, 90*time.Second, nil)
			},
			expected: ntfyRequest{
				title: "cbuildbot - eve-release passed",
				tags:  "cbuildbot,build,passed",
				body:  "Build 01234567 passed in 1m30s",
			},
		},
		{
			name: "build failed",
			send: func(n *notifications.Ntfy) error {
				return n.NotifyBuildCompleted(context.Background(), build, false, 0, []string{"BuildPackages", "Archive"})
			},
			expected: ntfyRequest{
				title:    "cbuildbot - eve-release failed",
				tags:     "cbuildbot,build,failed",
				priority: "high",
				body:     "Build 01234567 failed after 0s\nFailed stages: BuildPackages, Archive",
			},
		},
		{
			name: "test",
			send: func(n *notifications.Ntfy) error { return n.TestNotification(context.Background()) },
			expected: ntfyRequest{
				title:    "cbuildbot - Test",
				tags:     "cbuildbot,test",
				priority: "low",
				body:     "Notification system test",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, received := newNtfyServer(t)
			require.NoError(t, tc.send(notifications.NewNtfy(server.URL, 0)))
			got := received()
			require.Len(t, got, 1)
			assert.Equal(t, tc.expected, got[0])
		})
	}
}

func TestNtfyReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	err := notifications.NewNtfy(server.URL, time.Second).TestNotification(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "topic forbidden")
}

func TestNewServiceGatesEvents(t *testing.T) {
	server, received := newNtfyServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.BuildStart = false
	cfg.Notifications.StageFailures = true
	cfg.Notifications.BuildCompletion = false

	svc, err := notifications.NewService(&cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, svc.NotifyBuildStarted(ctx, build))
	require.NoError(t, svc.NotifyBuildCompleted(ctx, build, true, time.Second, nil))
	require.NoError(t, svc.NotifyStageFailed(ctx, build, "Archive", "", nil))
	require.NoError(t, svc.TestNotification(ctx))

	got := received()
	require.Len(t, got, 2)
	assert.Equal(t, "Stage Archive failed: unknown", got[0].body)
	assert.Equal(t, "cbuildbot - Test", got[1].title)
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSPublishesEvents(t *testing.T) {
	pub := &fakePublisher{}
	svc := notifications.NewNATS(pub, "ci.builds.")
	ctx := context.Background()

	require.NoError(t, svc.NotifyBuildStarted(ctx, build))
	require.NoError(t, svc.NotifyStageFailed(ctx, build, "BuildImage", "eve", errors.New("boom")))
	require.NoError(t, svc.NotifyBuildCompleted(ctx, build, false, 2*time.Minute, []string{"BuildImage"}))

	assert.Equal(t, []string{
		"ci.builds.build_started",
		"ci.builds.stage_failed",
		"ci.builds.build_completed",
	}, pub.subjects)

	var failed notifications.Event
	require.NoError(t, json.Unmarshal(pub.payloads[1], &failed))
	assert.Equal(t, "BuildImage", failed.Stage)
	assert.Equal(t, "eve", failed.Board)
	assert.Equal(t, "boom", failed.Error)
	assert.False(t, failed.Timestamp.IsZero())

	var completed notifications.Event
	require.NoError(t, json.Unmarshal(pub.payloads[2], &completed))
	require.NotNil(t, completed.Success)
	assert.False(t, *completed.Success)
	assert.InDelta(t, 120, completed.DurationSeconds, 0.001)
	assert.Equal(t, []string{"BuildImage"}, completed.FailedStages)
}

func TestNATSDefaultsSubjectAndHonorsContext(t *testing.T) {
	pub := &fakePublisher{}
	svc := notifications.NewNATS(pub, "")
	require.NoError(t, svc.TestNotification(context.Background()))
	assert.Equal(t, []string{"chromite.builds.test"}, pub.subjects)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, svc.TestNotification(ctx), context.Canceled)
	assert.NoError(t, svc.Close())
}

func TestMultiJoinsErrors(t *testing.T) {
	good := &fakePublisher{}
	bad := &fakePublisher{err: errors.New("no route")}
	svc := notifications.Multi(notifications.NewNATS(good, "a"), notifications.NewNATS(bad, "b"), notifications.Noop{})

	err := svc.NotifyBuildStarted(context.Background(), build)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish b.build_started")
	assert.Len(t, good.subjects, 1)
}

type closingService struct {
	notifications.Noop
	closed int
}

func (c *closingService) Close() error {
	c.closed++
	return nil
}

func TestCloseReachesWrappedServices(t *testing.T) {
	a, b := &closingService{}, &closingService{}
	require.NoError(t, notifications.Close(notifications.Multi(a, b, notifications.Noop{})))
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
	assert.NoError(t, notifications.Close(notifications.Noop{}))
	assert.NoError(t, notifications.Close(notifications.NewNATS(&fakePublisher{}, "x")))
}
