package model

// InboundEmail is the webhook payload: one triage request. Immutable
// once received. Every text field except message_id is required at the
// wire boundary; what an empty-ish body means for matching is the
// decision engine's business, not the transport's.
type InboundEmail struct {
	Sender            string `json:"sender" binding:"required"`
	Recipient         string `json:"recipient" binding:"required"`
	Subject           string `json:"subject" binding:"required"`
	Body              string `json:"body" binding:"required"`
	MessageID         string `json:"message_id,omitempty"`
	ConversationIndex string `json:"conversation_index,omitempty"` // base64 thread-position metadata, if the provider supplies it
}

// AuditRecord is the append-only log row written after a successful reply.
type AuditRecord struct {
	Sender           string
	Subject          string
	Body             string
	Embedding        []float32
	TemplateMetadata TemplateMetadata
	Distance         float64
}

// OutcomeStatus tags the result of one triage request.
type OutcomeStatus string

const (
	OutcomeReplied    OutcomeStatus = "replied"
	OutcomeSkipped    OutcomeStatus = "skipped"
	OutcomeNoTemplate OutcomeStatus = "no_template"
	OutcomeFailed     OutcomeStatus = "failed"
)

// Notification dispatch results within a Replied outcome.
const (
	NotificationSent    = "sent"
	NotificationSkipped = "skipped"
	NotificationFailed  = "failed"
)

// Pipeline stages reported on a Failed outcome.
const (
	StageResolve = "resolve"
	StageDecide  = "decide"
	StageReply   = "reply"
)

// Outcome is the structured response for one triage request. The caller
// is never left guessing whether a reply went out: Status is "replied"
// only after the mail provider confirmed the reply.
type Outcome struct {
	Status OutcomeStatus `json:"status"`

	// Skipped
	Reason string `json:"reason,omitempty"`

	// Failed
	Stage     string `json:"stage,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`

	// Replied
	Template     *TemplateSummary `json:"template,omitempty"`
	Priority     Priority         `json:"priority,omitempty"`
	Distance     float64          `json:"distance,omitempty"`
	Similarity   float64          `json:"similarity,omitempty"`
	Notification string           `json:"notification,omitempty"`
	AuditLogged  bool             `json:"audit_logged,omitempty"`
}
