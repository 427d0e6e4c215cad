package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mailtriage/internal/model"
)

// ErrNoTemplates is returned by Decide when the store holds no
// templates at all. It is a deliberate no-op outcome, not a failure.
var ErrNoTemplates = errors.New("template store is empty")

// Embedder is the embedding gateway capability.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TemplateSearcher answers full nearest-neighbor rankings, ascending by
// distance.
type TemplateSearcher interface {
	Nearest(ctx context.Context, vec []float32) ([]model.TemplateMatch, error)
}

// DecisionService is the reply decision engine: it turns an inbound
// email into a matched template, a priority and a rendered reply body.
// Pure over its two dependencies; no side effects, no retries.
type DecisionService struct {
	embedder      Embedder
	templates     TemplateSearcher
	threshold     float64
	fallbackLabel string
	logger        *zap.Logger
}

func NewDecisionService(embedder Embedder, templates TemplateSearcher, threshold float64, fallbackLabel string, logger *zap.Logger) *DecisionService {
	return &DecisionService{
		embedder:      embedder,
		templates:     templates,
		threshold:     threshold,
		fallbackLabel: fallbackLabel,
		logger:        logger,
	}
}

// Decide matches the email against the template library. Returns
// ErrNoTemplates when the store is empty; embedding and store failures
// propagate with their cause attached.
func (s *DecisionService) Decide(ctx context.Context, email *model.InboundEmail) (*model.Decision, error) {
	combined := email.Subject + "\n" + email.Body

	vec, err := s.embedder.Embed(ctx, combined)
	if err != nil {
		return nil, fmt.Errorf("embed email text: %w", err)
	}

	matches, err := s.templates.Nearest(ctx, vec)
	if err != nil {
		return nil, fmt.Errorf("rank templates: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrNoTemplates
	}

	selected := matches[0]
	if selected.Similarity < s.threshold {
		// 最佳匹配也不够像，换成兜底模板
		if fallback, ok := s.findFallback(matches); ok {
			s.logger.Info("Best match below threshold, using fallback template",
				zap.Float64("best_similarity", selected.Similarity),
				zap.Float64("threshold", s.threshold),
				zap.Int64("fallback_id", fallback.Template.ID),
			)
			selected = fallback
		} else {
			// 兜底模板没配置好：保留最佳匹配，告警但不让请求失败
			s.logger.Warn("Fallback template not found in store, keeping best match",
				zap.String("fallback_label", s.fallbackLabel),
				zap.Float64("best_similarity", selected.Similarity),
			)
		}
	}

	priority, err := model.ParsePriority(selected.Template.Metadata.Priority)
	if err != nil {
		return nil, fmt.Errorf("template %d: %w", selected.Template.ID, err)
	}

	return &model.Decision{
		Template:   selected.Template,
		Similarity: selected.Similarity,
		Distance:   selected.Distance,
		Priority:   priority,
		ReplyBody:  renderReplyBody(selected.Template),
		Embedding:  vec,
	}, nil
}

func (s *DecisionService) findFallback(matches []model.TemplateMatch) (model.TemplateMatch, bool) {
	for _, m := range matches {
		if strings.EqualFold(strings.TrimSpace(m.Template.Metadata.Subject), s.fallbackLabel) {
			return m, true
		}
	}
	return model.TemplateMatch{}, false
}

// renderReplyBody extracts the reply text from a template and prepares
// it for the HTML reply medium. metadata.body is canonical; the
// "Subject: X. Body: Y." framing of the embedded content is only a
// fallback source.
func renderReplyBody(t model.Template) string {
	body := strings.TrimSpace(t.Metadata.Body)
	if body == "" {
		body = t.Content
	}
	body = stripFraming(body)

	// 模板里存的是字面 \n 标记，而不是真正的换行
	body = strings.ReplaceAll(body, `\n`, "<br>")
	body = strings.ReplaceAll(body, "\n", "<br>")
	return body
}

func stripFraming(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "Subject:") {
		if i := strings.Index(trimmed, "Body:"); i >= 0 {
			trimmed = trimmed[i:]
		}
	}
	trimmed = strings.TrimPrefix(trimmed, "Body:")
	return strings.TrimSpace(trimmed)
}
