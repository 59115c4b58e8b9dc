// Package syncqueue durably stores mutating requests made while offline and
// replays them in order once connectivity returns.
package syncqueue

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/studyquest/offline-engine/internal/conf"
	"github.com/studyquest/offline-engine/internal/datastore/entities"
	"github.com/studyquest/offline-engine/internal/datastore/repository"
	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/events"
	"github.com/studyquest/offline-engine/internal/logger"
	"github.com/studyquest/offline-engine/internal/observability/metrics"
)

// namespacePrefix keeps queue keys apart from any other persisted state.
const namespacePrefix = "offline-queue:"

// ErrUnknownKind is returned by Enqueue for a kind with no configured target.
var ErrUnknownKind = errors.NewStd("unknown sync kind")

// Namespace returns the storage namespace of kind.
func Namespace(kind string) string {
	return namespacePrefix + kind
}

// Config wires a Queue.
type Config struct {
	Repo      repository.QueueRepository
	Replayer  Replayer
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    logger.Logger
	// Kinds maps a kind to the request it replays.
	Kinds map[string]conf.QueueKind
	// ReplayRate is replays per second; zero or less means unlimited.
	ReplayRate  float64
	ReplayBurst int
}

// Queue is the durable sync queue. Items are removed only by a successful
// replay or an explicit Remove/Purge.
type Queue struct {
	repo      repository.QueueRepository
	replayer  Replayer
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       logger.Logger
	kinds     map[string]conf.QueueKind
	limiter   *rate.Limiter

	mu sync.Mutex
	// drainMu serializes drains per kind so an item is never replayed by two
	// drains at once.
	drainMu map[string]*sync.Mutex
}

// New creates a Queue.
func New(cfg Config) *Queue {
	limit := rate.Inf
	if cfg.ReplayRate > 0 {
		limit = rate.Limit(cfg.ReplayRate)
	}
	burst := max(cfg.ReplayBurst, 1)
	return &Queue{
		repo:      cfg.Repo,
		replayer:  cfg.Replayer,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		log:       cfg.Logger.Module("syncqueue"),
		kinds:     cfg.Kinds,
		limiter:   rate.NewLimiter(limit, burst),
		drainMu:   make(map[string]*sync.Mutex),
	}
}

// KindFor returns the configured kind whose method and path match a request.
func (q *Queue) KindFor(method, path string) (string, bool) {
	for kind, k := range q.kinds {
		if strings.EqualFold(k.Method, method) && k.Path == path {
			return kind, true
		}
	}
	return "", false
}

// Enqueue appends payload for kind, targeting the kind's configured request.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload []byte, authToken string) (*entities.QueueItem, error) {
	k, ok := q.kinds[kind]
	if !ok {
		return nil, errors.New(ErrUnknownKind).
			Component("syncqueue").
			Category(errors.CategoryValidation).
			Context("kind", kind).
			Build()
	}
	method := k.Method
	if method == "" {
		method = http.MethodPost
	}
	return q.EnqueueRequest(ctx, kind, method, k.Path, payload, authToken)
}

// EnqueueRequest appends a captured request under kind.
func (q *Queue) EnqueueRequest(ctx context.Context, kind, method, rawURL string, payload []byte, authToken string) (*entities.QueueItem, error) {
	if kind == "" {
		return nil, errors.Newf("sync kind must not be empty").
			Component("syncqueue").
			Category(errors.CategoryValidation).
			Build()
	}
	item := &entities.QueueItem{
		ID:         uuid.NewString(),
		Namespace:  Namespace(kind),
		Kind:       kind,
		Method:     method,
		URL:        rawURL,
		Payload:    payload,
		AuthToken:  authToken,
		EnqueuedAt: time.Now(),
	}
	if err := q.repo.Append(ctx, item); err != nil {
		return nil, q.wrap(err, "enqueue", kind)
	}

	q.log.Info("queued request for later replay",
		logger.String("kind", kind),
		logger.String("id", item.ID),
		logger.String("method", method),
		logger.String("url", rawURL))
	if q.metrics != nil {
		q.metrics.QueueEnqueuedTotal.WithLabelValues(kind).Inc()
	}
	q.updateDepth(ctx, kind)
	return item, nil
}

// List returns the items of kind in enqueue order.
func (q *Queue) List(ctx context.Context, kind string) ([]entities.QueueItem, error) {
	items, err := q.repo.List(ctx, Namespace(kind))
	if err != nil {
		return nil, q.wrap(err, "list", kind)
	}
	return items, nil
}

// Kinds returns every kind that currently holds items.
func (q *Queue) Kinds(ctx context.Context) ([]string, error) {
	namespaces, err := q.repo.Namespaces(ctx)
	if err != nil {
		return nil, q.wrap(err, "kinds", "")
	}
	kinds := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		if kind, ok := strings.CutPrefix(ns, namespacePrefix); ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

// Remove deletes one item regardless of its state.
func (q *Queue) Remove(ctx context.Context, id string) error {
	item, err := q.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrQueueItemNotFound) {
			return errors.New(err).
				Component("syncqueue").
				Category(errors.CategoryNotFound).
				Context("id", id).
				Build()
		}
		return q.wrap(err, "remove", "")
	}
	if err := q.repo.Delete(ctx, id); err != nil {
		return q.wrap(err, "remove", item.Kind)
	}
	q.log.Info("removed queued item", logger.String("kind", item.Kind), logger.String("id", id))
	q.updateDepth(ctx, item.Kind)
	return nil
}

// Purge deletes every item of kind and returns how many were removed.
func (q *Queue) Purge(ctx context.Context, kind string) (int64, error) {
	n, err := q.repo.DeleteNamespace(ctx, Namespace(kind))
	if err != nil {
		return 0, q.wrap(err, "purge", kind)
	}
	q.log.Info("purged sync queue", logger.String("kind", kind), logger.Int64("removed", n))
	q.updateDepth(ctx, kind)
	return n, nil
}

// DrainReport summarizes one drain.
type DrainReport struct {
	Kind        string   `json:"kind"`
	Attempted   int      `json:"attempted"`
	Replayed    int      `json:"replayed"`
	Remaining   int      `json:"remaining"`
	AuthExpired []string `json:"auth_expired,omitempty"`
	Flagged     []string `json:"flagged,omitempty"`
	Failed      []string `json:"failed,omitempty"`
	// Stopped is set when the batch ended early on a connectivity failure.
	Stopped bool `json:"stopped"`
}

// Drain replays the items of kind in enqueue order. A connectivity failure
// ends the batch; any other failure leaves the item in place and moves on.
// Flagged items are replayed like any other and leave the queue on success.
func (q *Queue) Drain(ctx context.Context, kind string) (DrainReport, error) {
	mu := q.kindLock(kind)
	mu.Lock()
	defer mu.Unlock()

	report := DrainReport{Kind: kind}
	items, err := q.repo.List(ctx, Namespace(kind))
	if err != nil {
		return report, q.wrap(err, "drain", kind)
	}

	for i := range items {
		item := &items[i]
		if err := q.limiter.Wait(ctx); err != nil {
			return q.finish(ctx, report), err
		}

		report.Attempted++
		status, replayErr := q.replayer.Replay(ctx, item)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return q.finish(ctx, report), ctxErr
		}
		outcome := classify(status, replayErr)
		q.countReplay(kind, outcome)

		if outcome == OutcomeSuccess {
			if err := q.repo.Delete(ctx, item.ID); err != nil && !errors.Is(err, repository.ErrQueueItemNotFound) {
				return q.finish(ctx, report), q.wrap(err, "drain", kind)
			}
			report.Replayed++
			continue
		}

		reason := failureReason(status, replayErr)
		if err := q.repo.RecordAttempt(ctx, item.ID, reason, time.Now()); err != nil {
			q.log.Warn("failed to record replay attempt", logger.String("id", item.ID), logger.Error(err))
		}
		logFields := []logger.Field{
			logger.String("kind", kind),
			logger.String("id", item.ID),
			logger.String("outcome", string(outcome)),
			logger.String("reason", reason),
		}

		switch outcome {
		case OutcomeConnectivity:
			q.log.Info("network unavailable, stopping drain", logFields...)
			report.Stopped = true
			return q.finish(ctx, report), nil
		case OutcomeAuthExpired:
			q.log.Warn("replay rejected, auth token expired", logFields...)
			q.flag(ctx, item, entities.FlagReasonAuthExpired)
			report.AuthExpired = append(report.AuthExpired, item.ID)
		case OutcomeMalformed:
			q.log.Warn("replay rejected, payload flagged as malformed", logFields...)
			q.flag(ctx, item, entities.FlagReasonMalformed)
			report.Flagged = append(report.Flagged, item.ID)
			q.publish(events.SyncItemFlagged, map[string]any{
				"kind":   kind,
				"id":     item.ID,
				"reason": entities.FlagReasonMalformed,
			})
		case OutcomeSuccess, OutcomeServerError, OutcomeRejected:
			q.log.Warn("replay failed, item kept for next drain", logFields...)
			report.Failed = append(report.Failed, item.ID)
		}
	}
	return q.finish(ctx, report), nil
}

func (q *Queue) finish(ctx context.Context, report DrainReport) DrainReport {
	if n, err := q.repo.Count(ctx, Namespace(report.Kind)); err == nil {
		report.Remaining = int(n)
		if q.metrics != nil {
			q.metrics.QueueDepth.WithLabelValues(report.Kind).Set(float64(n))
		}
	}
	q.log.Info("drain finished",
		logger.String("kind", report.Kind),
		logger.Int("replayed", report.Replayed),
		logger.Int("remaining", report.Remaining),
		logger.Bool("stopped", report.Stopped))
	q.publish(events.SyncComplete, map[string]any{
		"kind":         report.Kind,
		"replayed":     report.Replayed,
		"remaining":    report.Remaining,
		"auth_expired": len(report.AuthExpired),
		"flagged":      len(report.Flagged),
		"stopped":      report.Stopped,
	})
	return report
}

func (q *Queue) flag(ctx context.Context, item *entities.QueueItem, reason string) {
	if err := q.repo.Flag(ctx, item.ID, reason); err != nil {
		q.log.Warn("failed to flag queue item",
			logger.String("id", item.ID),
			logger.String("reason", reason),
			logger.Error(err))
	}
}

func failureReason(status int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("status %d %s", status, http.StatusText(status))
}

func (q *Queue) kindLock(kind string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	mu, ok := q.drainMu[kind]
	if !ok {
		mu = &sync.Mutex{}
		q.drainMu[kind] = mu
	}
	return mu
}

func (q *Queue) publish(name events.Name, data map[string]any) {
	if q.publisher != nil {
		q.publisher.Publish(&events.Event{Name: name, Data: data})
	}
}

func (q *Queue) countReplay(kind string, outcome Outcome) {
	if q.metrics != nil {
		q.metrics.QueueReplayedTotal.WithLabelValues(kind, string(outcome)).Inc()
	}
}

func (q *Queue) updateDepth(ctx context.Context, kind string) {
	if q.metrics == nil {
		return
	}
	if n, err := q.repo.Count(ctx, Namespace(kind)); err == nil {
		q.metrics.QueueDepth.WithLabelValues(kind).Set(float64(n))
	}
}

func (q *Queue) wrap(err error, op, kind string) error {
	return errors.New(err).
		Component("syncqueue").
		Category(errors.CategoryQueue).
		Context("operation", op).
		Context("kind", kind).
		Build()
}
