package ingress

import (
	"context"
	"log/slog"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/config"
	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"
	"github.com/aymenfurter/polyclaw-sub001/internal/idempotency"
)

type RuntimeConfig struct {
	SubmitTimeout  time.Duration
	DrainTimeout   time.Duration
	IdempotencyTTL time.Duration
}

// Ingress is the single entry point for inbound events. Approval answers
// get their own lane so a burst of tool notices can never starve the human
// who is trying to answer a question.
type Ingress struct {
	approvalQueue  chan *Event
	noticeQueue    chan *Event
	dedupe         *idempotency.Store
	submitTimeout  time.Duration
	drainTimeout   time.Duration
	idempotencyTTL time.Duration
}

func NewIngress(queueSize int, runtimeCfg RuntimeConfig, dedupe *idempotency.Store) *Ingress {
	if queueSize <= 0 {
		queueSize = config.DefaultIngressQueueSize
	}

	if runtimeCfg.SubmitTimeout <= 0 {
		if d, err := config.DurationOrDefault("", config.DefaultIngressSubmitTimeout); err == nil {
			runtimeCfg.SubmitTimeout = d
		}
	}
	if runtimeCfg.DrainTimeout <= 0 {
		if d, err := config.DurationOrDefault("", config.DefaultIngressDrainTimeout); err == nil {
			runtimeCfg.DrainTimeout = d
		}
	}
	if runtimeCfg.IdempotencyTTL <= 0 {
		if d, err := config.DurationOrDefault("", config.DefaultIdempotencyTTL); err == nil {
			runtimeCfg.IdempotencyTTL = d
		}
	}

	return &Ingress{
		approvalQueue:  make(chan *Event, queueSize),
		noticeQueue:    make(chan *Event, queueSize),
		dedupe:         dedupe,
		submitTimeout:  runtimeCfg.SubmitTimeout,
		drainTimeout:   runtimeCfg.DrainTimeout,
		idempotencyTTL: runtimeCfg.IdempotencyTTL,
	}
}

// Submit ingests an event. It returns ErrDuplicateEvent for an already-seen
// event and ErrTransient when the lane is full (backpressure).
func (i *Ingress) Submit(ctx context.Context, evt *Event) error {
	if evt == nil {
		return polyErrors.InvalidInput("event is nil")
	}

	slog.Debug("Ingress received event", "id", evt.ID, "type", evt.Type, "source", evt.Source)

	if i.dedupe != nil {
		key := evt.IdempotencyKey()
		if i.dedupe.CheckAndMark(key, i.idempotencyTTL) {
			slog.Warn("Duplicate event detected", "key", key)
			return polyErrors.ErrDuplicateEvent
		}
	}

	switch evt.Type {
	case TypeApprovalResponse, TypeSessionEnd:
		select {
		case i.approvalQueue <- evt:
			slog.Debug("Event routed", "id", evt.ID, "lane", "approval", "session", evt.SessionID)
			return nil
		case <-time.After(i.submitTimeout):
			slog.Warn("Approval queue full, dropping event", "id", evt.ID)
			return polyErrors.ErrTransient
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		select {
		case i.noticeQueue <- evt:
			slog.Debug("Event routed", "id", evt.ID, "lane", "notice", "session", evt.SessionID)
			return nil
		default:
			slog.Warn("Notice queue full, dropping event", "id", evt.ID)
			return polyErrors.ErrTransient
		}
	}
}

func (i *Ingress) ApprovalQueue() <-chan *Event {
	return i.approvalQueue
}

func (i *Ingress) NoticeQueue() <-chan *Event {
	return i.noticeQueue
}

// Close drains both lanes and closes them.
func (i *Ingress) Close() error {
	slog.Info("Ingress shutting down, draining queues")

	drainStart := time.Now()
	drainQueue := func(ch chan *Event, name string) {
		for len(ch) > 0 && time.Since(drainStart) < i.drainTimeout {
			select {
			case <-ch:
			default:
			}
		}
		if remaining := len(ch); remaining > 0 {
			slog.Warn("Queue drain incomplete", "name", name, "remaining", remaining)
		}
		close(ch)
	}

	drainQueue(i.approvalQueue, "approval")
	drainQueue(i.noticeQueue, "notice")

	slog.Info("Ingress shutdown complete")
	return nil
}

// Health reports queue saturation.
func (i *Ingress) Health(ctx context.Context) error {
	if i.approvalQueue == nil || i.noticeQueue == nil {
		return polyErrors.Internal("queues not initialized")
	}

	approvalUsage := float64(len(i.approvalQueue)) / float64(cap(i.approvalQueue))
	noticeUsage := float64(len(i.noticeQueue)) / float64(cap(i.noticeQueue))

	slog.Debug("Ingress health metrics",
		"approval_queue_len", len(i.approvalQueue),
		"approval_usage", approvalUsage,
		"notice_queue_len", len(i.noticeQueue),
		"notice_usage", noticeUsage,
	)

	if approvalUsage > 0.9 {
		return polyErrors.Transient("approval queue nearly full")
	}
	if noticeUsage > 0.9 {
		return polyErrors.Transient("notice queue nearly full")
	}
	return nil
}
