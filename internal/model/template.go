package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Priority is the operator-facing urgency tag carried by a template.
type Priority string

const (
	PriorityNoAction Priority = "no-action"
	PriorityLow      Priority = "low-priority"
	PriorityHigh     Priority = "high-priority"
)

// ErrInvalidPriority marks a template whose metadata carries an
// unrecognized priority value. Bad configuration must surface, not be
// silently downgraded.
var ErrInvalidPriority = fmt.Errorf("invalid priority value")

// ParsePriority validates a raw metadata priority. Absent or blank
// means no-action; anything else must match the enum exactly.
func ParsePriority(raw string) (Priority, error) {
	trimmed := strings.TrimSpace(raw)
	switch Priority(trimmed) {
	case "", PriorityNoAction:
		return PriorityNoAction, nil
	case PriorityLow:
		return PriorityLow, nil
	case PriorityHigh:
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, raw)
	}
}

// Label renders the priority for notification subject lines.
func (p Priority) Label() string {
	switch p {
	case PriorityLow:
		return "LOW PRIORITY"
	case PriorityHigh:
		return "HIGH PRIORITY"
	default:
		return "NO ACTION"
	}
}

// TemplateMetadata is the jsonb column of a stored template. The known
// keys are typed; everything else the import pipeline put there is kept
// in Extra so audit rows preserve the full document.
type TemplateMetadata struct {
	Subject  string
	Body     string
	Priority string
	Extra    map[string]any
}

func (m *TemplateMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = TemplateMetadata{}
	for k, v := range raw {
		s, _ := v.(string) // null 或非字符串值按空串处理
		switch k {
		case "subject":
			m.Subject = s
		case "body":
			m.Body = s
		case "priority":
			m.Priority = s
		default:
			if m.Extra == nil {
				m.Extra = map[string]any{}
			}
			m.Extra[k] = v
		}
	}
	return nil
}

func (m TemplateMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["subject"] = m.Subject
	out["body"] = m.Body
	out["priority"] = m.Priority
	return json.Marshal(out)
}

// Template is one row of the reply template library.
type Template struct {
	ID       int64
	Content  string
	Metadata TemplateMetadata
}

// TemplateMatch is one entry of a nearest-neighbor ranking. Similarity
// is 1 - Distance over the store's distance metric.
type TemplateMatch struct {
	Template   Template
	Distance   float64
	Similarity float64
}

// TemplateSummary is the template reference exposed in responses.
type TemplateSummary struct {
	ID      int64  `json:"id"`
	Subject string `json:"subject"`
}

// Decision is the reply decision for one email: the selected template,
// its ranking scores, the validated priority and the rendered reply.
type Decision struct {
	Template   Template
	Similarity float64
	Distance   float64
	Priority   Priority
	ReplyBody  string
	Embedding  []float32
}
