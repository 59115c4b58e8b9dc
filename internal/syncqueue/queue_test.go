package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/studyquest/offline-engine/internal/conf"
	"github.com/studyquest/offline-engine/internal/datastore/entities"
	"github.com/studyquest/offline-engine/internal/datastore/repository"
	"github.com/studyquest/offline-engine/internal/events"
	"github.com/studyquest/offline-engine/internal/logger"
	"github.com/studyquest/offline-engine/internal/observability/metrics"
)

const upstream = "http://api.test"

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(e *events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) named(name events.Name) []*events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*events.Event
	for _, e := range p.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	queue     *Queue
	transport *httpmock.MockTransport
	events    *recordingPublisher
	metrics   *metrics.Metrics
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&entities.QueueItem{}))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base, err := url.Parse(upstream)
	require.NoError(t, err)

	mt := httpmock.NewMockTransport()
	f := &fixture{transport: mt, events: &recordingPublisher{}, metrics: metrics.New()}
	f.queue = New(Config{
		Repo:      repository.NewQueueRepository(setupTestDB(t)),
		Replayer:  NewHTTPReplayer(&http.Client{Transport: mt}, base),
		Publisher: f.events,
		Metrics:   f.metrics,
		Logger:    logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil),
		Kinds: map[string]conf.QueueKind{
			"quiz-submission": {Method: http.MethodPost, Path: "/api/quiz/submit"},
			"chat-message":    {Method: http.MethodPost, Path: "/api/chat/messages"},
		},
	})
	return f
}

func TestEnqueueThenDrainEmptiesQueue(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	var gotAuth, gotKey, gotBody string
	f.transport.RegisterResponder(http.MethodPost, upstream+"/api/quiz/submit",
		func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			gotKey = req.Header.Get(HeaderIdempotencyKey)
			b, _ := io.ReadAll(req.Body)
			gotBody = string(b)
			return httpmock.NewStringResponse(200, `{"ok":true}`), nil
		})

	item, err := f.queue.Enqueue(ctx, "quiz-submission", []byte(`{"answers":[1,3,2]}`), "tok123")
	require.NoError(t, err)
	assert.Equal(t, "offline-queue:quiz-submission", item.Namespace)

	report, err := f.queue.Drain(ctx, "quiz-submission")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replayed)
	assert.Zero(t, report.Remaining)

	items, err := f.queue.List(ctx, "quiz-submission")
	require.NoError(t, err)
	assert.Empty(t, items)

	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, item.ID, gotKey)
	assert.JSONEq(t, `{"answers":[1,3,2]}`, gotBody)
	require.Len(t, f.events.named(events.SyncComplete), 1)
}

func TestDrain_FIFOOrder(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	var order []string
	f.transport.RegisterResponder(http.MethodPost, upstream+"/api/chat/messages",
		func(req *http.Request) (*http.Response, error) {
			var body struct{ N int }
			_ = json.NewDecoder(req.Body).Decode(&body)
			order = append(order, fmt.Sprint(body.N))
			return httpmock.NewStringResponse(201, ""), nil
		})

	for i := range 5 {
		_, err := f.queue.Enqueue(ctx, "chat-message", fmt.Appendf(nil, `{"n":%d}`, i), "tok")
		require.NoError(t, err)
	}
	report, err := f.queue.Drain(ctx, "chat-message")
	require.NoError(t, err)
	assert.Equal(t, 5, report.Replayed)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, order)
}

func TestDrain_ConnectivityFailureKeepsItemsAndStops(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.transport.RegisterNoResponder(httpmock.ConnectionFailure)

	for range 3 {
		_, err := f.queue.Enqueue(ctx, "quiz-submission", []byte(`{}`), "tok")
		require.NoError(t, err)
	}

	report, err := f.queue.Drain(ctx, "quiz-submission")
	require.NoError(t, err)
	assert.True(t, report.Stopped)
	assert.Equal(t, 1, report.Attempted, "the batch stops after the first connectivity failure")
	assert.Equal(t, 3, report.Remaining)
	assert.Equal(t, 1, f.transport.GetTotalCallCount())

	items, err := f.queue.List(ctx, "quiz-submission")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 1, items[0].Attempts)
	assert.NotEmpty(t, items[0].LastError)

	// Connectivity returns: the retained items are replayed on the next drain.
	f.transport.RegisterResponder(http.MethodPost, upstream+"/api/quiz/submit", httpmock.NewStringResponder(200, ""))
	report, err = f.queue.Drain(ctx, "quiz-submission")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Replayed)
	assert.Zero(t, report.Remaining)
}

func TestDrain_AuthExpiredRetained(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.transport.RegisterResponder(http.MethodPost, upstream+"/api/quiz/submit", httpmock.NewStringResponder(401, ""))

	item, err := f.queue.Enqueue(ctx, "quiz-submission", []byte(`{}`), "stale")
	require.NoError(t, err)

	report, err := f.queue.Drain(ctx, "quiz-submission")
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, report.AuthExpired)
	assert.Equal(t, 1, report.Remaining)

	// Auth-expired items are retried on the next drain.
	f.transport.RegisterResponder(http.MethodPost, upstream+"/api/quiz/submit", httpmock.NewStringResponder(200, ""))
	report, err = f.queue.Drain(ctx, "quiz-submission")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replayed)
}

func TestDrain_MalformedFlaggedAndDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.transport.RegisterResponder(http.MethodPost, upstream+"/api/quiz/submit",
		func(req *http.Request) (*http.Response, error) {
			b, _ := io.ReadAll(req.Body)
			if string(b) == `{"bad":true}` {
				return httpmock.NewStringResponse(422, ""), nil
			}
			return httpmock.NewStringResponse(200, ""), nil
		})

	bad, err := f.queue.Enqueue(ctx, "quiz-submission", []byte(`{"bad":true}`), "tok")
	require.NoError(t, err)
	notJSON, err := f.queue.Enqueue(ctx, "quiz-submission", []byte(`{not json`), "tok")
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "quiz-submission", []byte(`{"good":true}`), "tok")
	require.NoError(t, err)

	report, err := f.queue.Drain(ctx, "quiz-submission")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replayed)
	assert.ElementsMatch(t, []string{bad.ID, notJSON.ID}, report.Flagged)
	assert.Equal(t, 2, report.Remaining)
	assert.Len(t, f.events.named(events.SyncItemFlagged), 2)

	items, err := f.queue.List(ctx, "quiz-submission")
	require.NoError(t, err)
	for _, it := range items {
		assert.True(t, it.Flagged)
		assert.Equal(t, entities.FlagReasonMalformed, it.FlagReason)
	}

	// Flagged items are retried on the next drain. The undecodable payload
	// never reaches the network.
	calls := f.transport.GetTotalCallCount()
	report, err = f.queue.Drain(ctx, "quiz-submission")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
	assert.ElementsMatch(t, []string{bad.ID, notJSON.ID}, report.Flagged)
	assert.Equal(t, calls+1, f.transport.GetTotalCallCount())
}

func TestDrain_FlaggedItemDeliveredOnceServerAccepts(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.transport.RegisterResponder(http.MethodPost, upstream+"/api/quiz/submit",
		httpmock.NewStringResponder(422, `{"error":"unprocessable"}`))

	item, err := f.queue.Enqueue(ctx, "quiz-submission", []byte(`{"quizId":"q1"}`), "tok")
	require.NoError(t, err)

	report, err := f.queue.Drain(ctx, "quiz-submission")
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, report.Flagged)
	assert.Equal(t, 1, report.Remaining)

	f.transport.RegisterResponder(http.MethodPost, upstream+"/api/quiz/submit",
		httpmock.NewStringResponder(200, `{}`))

	report, err = f.queue.Drain(ctx, "quiz-submission")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, 0, report.Remaining)
	assert.Equal(t, 2, f.transport.GetTotalCallCount())

	items, err := f.queue.List(ctx, "quiz-submission")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDrain_ServerErrorContinues(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	n := 0
	f.transport.RegisterResponder(http.MethodPost, upstream+"/api/chat/messages",
		func(*http.Request) (*http.Response, error) {
			n++
			if n == 1 {
				return httpmock.NewStringResponse(503, ""), nil
			}
			return httpmock.NewStringResponse(200, ""), nil
		})

	first, err := f.queue.Enqueue(ctx, "chat-message", []byte(`{"n":1}`), "tok")
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "chat-message", []byte(`{"n":2}`), "tok")
	require.NoError(t, err)

	report, err := f.queue.Drain(ctx, "chat-message")
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, report.Failed)
	assert.Equal(t, 1, report.Replayed)

	items, err := f.queue.List(ctx, "chat-message")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, first.ID, items[0].ID)
	assert.False(t, items[0].Flagged)
}

func TestDrain_CanceledContext(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.Enqueue(t.Context(), "chat-message", []byte(`{}`), "tok")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = f.queue.Drain(ctx, "chat-message")
	require.ErrorIs(t, err, context.Canceled)

	items, err := f.queue.List(t.Context(), "chat-message")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestEnqueue_UnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.Enqueue(t.Context(), "homework", []byte(`{}`), "tok")
	require.ErrorIs(t, err, ErrUnknownKind)

	// Captured requests can use any kind.
	_, err = f.queue.EnqueueRequest(t.Context(), "homework", http.MethodPut, "/api/homework/1", []byte(`{}`), "tok")
	require.NoError(t, err)
}

func TestRemoveAndPurge(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	a, err := f.queue.Enqueue(ctx, "quiz-submission", []byte(`{}`), "tok")
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "quiz-submission", []byte(`{}`), "tok")
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "chat-message", []byte(`{}`), "tok")
	require.NoError(t, err)

	require.NoError(t, f.queue.Remove(ctx, a.ID))
	require.Error(t, f.queue.Remove(ctx, a.ID))

	kinds, err := f.queue.Kinds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chat-message", "quiz-submission"}, kinds)

	n, err := f.queue.Purge(ctx, "quiz-submission")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	chat, err := f.queue.List(ctx, "chat-message")
	require.NoError(t, err)
	assert.Len(t, chat, 1, "purge is scoped to one kind")
}

func TestKindFor(t *testing.T) {
	f := newFixture(t)

	kind, ok := f.queue.KindFor("post", "/api/quiz/submit")
	assert.True(t, ok)
	assert.Equal(t, "quiz-submission", kind)

	_, ok = f.queue.KindFor(http.MethodGet, "/api/quiz/submit")
	assert.False(t, ok)
}
