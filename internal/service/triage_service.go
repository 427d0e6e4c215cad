package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/embedding"
	"mailtriage/internal/model"
	"mailtriage/internal/msauth"
	"mailtriage/internal/repository"
	"mailtriage/pkg/metrics"
	"mailtriage/pkg/mq"
)

// ErrOriginalMessageNotFound means the inbound email could not be
// matched to a mailbox message to reply to.
var ErrOriginalMessageNotFound = errors.New("original message not found in mailbox")

// replyPrefixPattern matches reply/forward subjects. Leading whitespace
// is tolerated; matching is case-insensitive.
var replyPrefixPattern = regexp.MustCompile(`(?i)^\s*(re|fw|fwd)\s*:`)

// conversationIndexBaseline is the decoded byte length of an Exchange
// conversation index for the first message of a thread; anything longer
// is a reply somewhere down the thread.
const conversationIndexBaseline = 22

// Decider produces a reply decision for an inbound email.
type Decider interface {
	Decide(ctx context.Context, email *model.InboundEmail) (*model.Decision, error)
}

// MailGateway is the mail-provider capability used by the pipeline.
type MailGateway interface {
	ReplyToMessage(ctx context.Context, messageID, htmlBody string) error
	SearchBySubject(ctx context.Context, subject string) ([]string, error)
	MoveMessage(ctx context.Context, messageID, folderID string) error
	SendMail(ctx context.Context, to, subject, htmlBody string) error
}

// AuditLog appends one record per successfully replied email.
type AuditLog interface {
	Insert(ctx context.Context, rec *model.AuditRecord) error
}

// EventPublisher publishes pipeline events for downstream consumers.
type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

// Deduper filters replayed webhook deliveries. Release drops the mark
// again so a failed request stays retryable.
type Deduper interface {
	AcquireOnce(ctx context.Context, scope, messageID string) bool
	Release(ctx context.Context, scope, messageID string)
}

// TriageConfig is the explicit per-service policy configuration; no
// ambient environment lookups inside the pipeline.
type TriageConfig struct {
	// Mailbox is the watched mailbox address; mail from it is our own
	// automation and must never re-trigger the pipeline.
	Mailbox string
	// NotifyAddress receives priority notifications.
	NotifyAddress string
	// ProcessedFolderID, when set, is where replied messages are moved.
	ProcessedFolderID string
	// RequestTimeout bounds one whole triage request.
	RequestTimeout time.Duration
}

// TriageService runs the per-request control flow: loop guard, message
// resolution, decision, ordered dispatch, audit log. No cross-request
// state lives here; the credential cache is owned by the mail gateway.
type TriageService struct {
	decider Decider
	mail    MailGateway
	audit   AuditLog
	events  EventPublisher // optional
	deduper Deduper        // optional
	cfg     TriageConfig
	logger  *zap.Logger
}

func NewTriageService(
	decider Decider,
	mail MailGateway,
	audit AuditLog,
	events EventPublisher,
	deduper Deduper,
	cfg TriageConfig,
	logger *zap.Logger,
) *TriageService {
	return &TriageService{
		decider: decider,
		mail:    mail,
		audit:   audit,
		events:  events,
		deduper: deduper,
		cfg:     cfg,
		logger:  logger,
	}
}

// Handle triages one inbound email and returns the structured outcome.
// Side effects are strictly ordered: reply, then notification, then
// audit log; later steps never run when the reply failed.
func (s *TriageService) Handle(ctx context.Context, email *model.InboundEmail) *model.Outcome {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	outcome := s.handle(ctx, email)
	metrics.IncrementTriageOutcome(string(outcome.Status))
	return outcome
}

func (s *TriageService) handle(ctx context.Context, email *model.InboundEmail) *model.Outcome {
	log := s.logger.With(
		zap.String("sender", email.Sender),
		zap.String("subject", email.Subject),
	)

	// ---- 第一道闸：防自触发 ----
	// 自己发出的回复和通知还会再进 webhook，不拦住就是死循环
	if strings.EqualFold(strings.TrimSpace(email.Sender), s.cfg.Mailbox) {
		log.Info("Skipping email from our own mailbox")
		return &model.Outcome{Status: model.OutcomeSkipped, Reason: "self-sender"}
	}
	if isReply(email.Subject, email.ConversationIndex) {
		log.Info("Skipping reply/forward in an existing thread")
		return &model.Outcome{Status: model.OutcomeSkipped, Reason: "thread-reply"}
	}

	// ---- 消息定位 ----
	messageID := email.MessageID
	if messageID == "" {
		ids, err := s.mail.SearchBySubject(ctx, email.Subject)
		if err != nil {
			log.Error("Message search failed", zap.Error(err))
			return failedOutcome(model.StageResolve, err)
		}
		if len(ids) == 0 {
			log.Warn("No mailbox message matches the inbound subject")
			return failedOutcome(model.StageResolve, ErrOriginalMessageNotFound)
		}
		messageID = ids[0]
	}

	// webhook 重放保护（按已定位的 message id 去重）
	if s.deduper != nil && !s.deduper.AcquireOnce(ctx, "triage", messageID) {
		return &model.Outcome{Status: model.OutcomeSkipped, Reason: "duplicate-delivery"}
	}

	// ---- 决策 ----
	decision, err := s.decider.Decide(ctx, email)
	if errors.Is(err, ErrNoTemplates) {
		log.Info("Template store is empty, nothing to match against")
		return &model.Outcome{Status: model.OutcomeNoTemplate}
	}
	if err != nil {
		log.Error("Decision failed", zap.Error(err))
		s.releaseDedup(ctx, messageID)
		return failedOutcome(model.StageDecide, err)
	}

	log.Info("Template matched",
		zap.Int64("template_id", decision.Template.ID),
		zap.Float64("distance", decision.Distance),
		zap.String("priority", string(decision.Priority)),
	)

	// ---- 派发（有序，不回滚）----
	// 1. 回复。失败则整个请求失败，不再发通知、不写日志。
	if err := s.mail.ReplyToMessage(ctx, messageID, decision.ReplyBody); err != nil {
		log.Error("Reply dispatch failed", zap.Error(err))
		s.releaseDedup(ctx, messageID)
		return failedOutcome(model.StageReply, err)
	}

	outcome := &model.Outcome{
		Status: model.OutcomeReplied,
		Template: &model.TemplateSummary{
			ID:      decision.Template.ID,
			Subject: decision.Template.Metadata.Subject,
		},
		Priority:   decision.Priority,
		Distance:   decision.Distance,
		Similarity: decision.Similarity,
	}

	// 2. 内部优先级通知。失败只记录，不影响已发出的回复。
	outcome.Notification = s.sendNotification(ctx, email, decision, log)

	// 3. 已处理的邮件挪走（可选，非致命）。
	if s.cfg.ProcessedFolderID != "" {
		if err := s.mail.MoveMessage(ctx, messageID, s.cfg.ProcessedFolderID); err != nil {
			log.Warn("Failed to move message to processed folder", zap.Error(err))
		}
	}

	// 4. 审计日志（非致命）。
	if err := s.audit.Insert(ctx, &model.AuditRecord{
		Sender:           email.Sender,
		Subject:          email.Subject,
		Body:             email.Body,
		Embedding:        decision.Embedding,
		TemplateMetadata: decision.Template.Metadata,
		Distance:         decision.Distance,
	}); err != nil {
		log.Error("Audit log write failed", zap.Error(err))
	} else {
		outcome.AuditLogged = true
	}

	// 5. 下游事件（非致命）。
	s.publishEvent(messageID, email, outcome, log)

	return outcome
}

// releaseDedup drops the dedup mark after a failed dispatch. The
// provider retries failed webhook deliveries; without the release the
// retry would be misread as a duplicate and the email never replied to.
func (s *TriageService) releaseDedup(ctx context.Context, messageID string) {
	if s.deduper == nil {
		return
	}
	// 失败往往就是超时，释放 key 不能跟着死在同一个 context 上
	s.deduper.Release(context.WithoutCancel(ctx), "triage", messageID)
}

func (s *TriageService) sendNotification(ctx context.Context, email *model.InboundEmail, decision *model.Decision, log *zap.Logger) string {
	if decision.Priority == model.PriorityNoAction {
		return model.NotificationSkipped
	}

	subject := fmt.Sprintf("[%s] Customer Email: %s", decision.Priority.Label(), email.Subject)
	body := fmt.Sprintf(
		"<p><b>From:</b> %s</p><p><b>Subject:</b> %s</p><hr><p>%s</p>",
		email.Sender,
		email.Subject,
		strings.ReplaceAll(email.Body, "\n", "<br>"),
	)

	if err := s.mail.SendMail(ctx, s.cfg.NotifyAddress, subject, body); err != nil {
		log.Error("Notification dispatch failed", zap.Error(err))
		return model.NotificationFailed
	}
	return model.NotificationSent
}

func (s *TriageService) publishEvent(messageID string, email *model.InboundEmail, outcome *model.Outcome, log *zap.Logger) {
	if s.events == nil {
		return
	}
	payload := mq.EmailTriagedPayload{
		MessageID:    messageID,
		Sender:       email.Sender,
		Subject:      email.Subject,
		Status:       string(outcome.Status),
		Priority:     string(outcome.Priority),
		Distance:     outcome.Distance,
		Notification: outcome.Notification,
		TriagedAt:    time.Now(),
	}
	if err := s.events.Publish(mq.RoutingKeyEmailTriaged, payload); err != nil {
		log.Warn("Failed to publish email.triaged event", zap.Error(err))
	}
}

// isReply reports whether the email is part of an existing thread:
// either the subject carries a reply/forward prefix, or the provider's
// conversation index says this is not the thread's first message.
func isReply(subject, conversationIndex string) bool {
	if replyPrefixPattern.MatchString(subject) {
		return true
	}
	if conversationIndex != "" {
		if decoded, err := base64.StdEncoding.DecodeString(conversationIndex); err == nil {
			return len(decoded) > conversationIndexBaseline
		}
	}
	return false
}

func failedOutcome(stage string, err error) *model.Outcome {
	return &model.Outcome{
		Status:    model.OutcomeFailed,
		Stage:     stage,
		ErrorCode: errorCode(stage, err),
		Message:   err.Error(),
	}
}

func errorCode(stage string, err error) string {
	switch {
	case errors.Is(err, embedding.ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	case errors.Is(err, repository.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, msauth.ErrAuthUnavailable):
		return "auth_unavailable"
	case errors.Is(err, ErrOriginalMessageNotFound):
		return "original_message_not_found"
	case errors.Is(err, model.ErrInvalidPriority):
		return "configuration_error"
	case stage == model.StageReply:
		return "reply_dispatch_failed"
	default:
		return "internal_error"
	}
}
