package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"mailtriage/pkg/mq"
	"mailtriage/pkg/util"
)

const maxRetries = 5

// TriageEventStore persists one row per email.triaged event.
type TriageEventStore interface {
	Insert(ctx context.Context, p *mq.EmailTriagedPayload) error
}

// DLQPublisher parks poison messages after retries are exhausted.
type DLQPublisher interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// Deduper filters redelivered events.
type Deduper interface {
	AcquireOnce(ctx context.Context, scope, messageID string) bool
}

// RetryCounter tracks per-message delivery attempts across redeliveries.
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// TriagedHandler consumes email.triaged events and appends them to the
// triage_events reporting table.
type TriagedHandler struct {
	store   TriageEventStore
	deduper Deduper
	retries RetryCounter
	dlq     DLQPublisher
	logger  *zap.Logger
}

func NewTriagedHandler(
	store TriageEventStore,
	deduper Deduper,
	retries RetryCounter,
	dlq DLQPublisher,
	logger *zap.Logger,
) *TriagedHandler {
	return &TriagedHandler{
		store:   store,
		deduper: deduper,
		retries: retries,
		dlq:     dlq,
		logger:  logger,
	}
}

// HandleEmailTriaged -- 写入 triage_events 报表
func (h *TriagedHandler) HandleEmailTriaged(ctx context.Context, raw json.RawMessage) error {
	var p mq.EmailTriagedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// JSON decode 错误 - 不可重试
		h.logger.Error("Failed to unmarshal email triaged payload (non-retryable)",
			zap.Error(err),
		)
		return nil // 返回 nil，让 consumer ack 掉
	}

	// Redis 去重
	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, "triage-event", p.MessageID) {
		h.logger.Info("Duplicate triage event skipped",
			zap.String("message_id", p.MessageID))
		return nil
	}

	if err := h.store.Insert(ctx, &p); err != nil {
		return h.handleInsertFailure(ctx, raw, &p, err)
	}

	if h.retries != nil {
		_ = h.retries.Reset(ctx, util.FormatRetryKey("triaged", p.MessageID))
	}

	h.logger.Info("Triage event recorded",
		zap.String("message_id", p.MessageID),
		zap.String("status", p.Status),
		zap.String("priority", p.Priority),
	)
	return nil
}

func (h *TriagedHandler) handleInsertFailure(ctx context.Context, raw json.RawMessage, p *mq.EmailTriagedPayload, err error) error {
	isRetryable, errType := util.IsRetryableError(err)
	h.logger.Error("Failed to insert triage event",
		zap.String("message_id", p.MessageID),
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Error(err),
	)

	if !isRetryable {
		h.parkMessage(raw, p, err)
		return nil // ack 掉，不再重投
	}

	if h.retries != nil {
		attempts, cerr := h.retries.IncrementAndGet(ctx, util.FormatRetryKey("triaged", p.MessageID))
		if cerr == nil && attempts >= maxRetries {
			h.logger.Error("Retry budget exhausted, parking message",
				zap.String("message_id", p.MessageID),
				zap.Int64("attempts", attempts),
			)
			h.parkMessage(raw, p, err)
			return nil
		}
	}

	return err // nack 并重试
}

func (h *TriagedHandler) parkMessage(raw json.RawMessage, p *mq.EmailTriagedPayload, cause error) {
	if h.dlq == nil {
		return
	}
	if err := h.dlq.PublishToDLQ(mq.RoutingKeyEmailTriaged, raw, cause.Error()); err != nil {
		h.logger.Error("Failed to publish to DLQ",
			zap.String("message_id", p.MessageID),
			zap.Error(err),
		)
	}
}
