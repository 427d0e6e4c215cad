package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/internal/model"
)

type fakeTriage struct {
	outcome *model.Outcome
	got     *model.InboundEmail
}

func (f *fakeTriage) Handle(_ context.Context, email *model.InboundEmail) *model.Outcome {
	f.got = email
	return f.outcome
}

func newTestEngine(triage *fakeTriage, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewWebhookHandler(triage, secret, zap.NewNop())
	r.POST("/webhook/email", h.HandleInboundEmail)
	return r
}

func post(t *testing.T, r *gin.Engine, body, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/email", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(secretHeader, secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookRepliedOutcome(t *testing.T) {
	triage := &fakeTriage{outcome: &model.Outcome{
		Status:       model.OutcomeReplied,
		Priority:     model.PriorityLow,
		Notification: model.NotificationSent,
	}}
	r := newTestEngine(triage, "")

	w := post(t, r, `{"sender":"a@b.com","recipient":"support@contoso.com","subject":"Pricing","body":"How much?"}`, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp model.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != model.OutcomeReplied || resp.Notification != model.NotificationSent {
		t.Errorf("response = %+v", resp)
	}
	if triage.got == nil || triage.got.Sender != "a@b.com" {
		t.Errorf("pipeline input = %+v", triage.got)
	}
}

func TestWebhookFailedOutcomeMapsTo502(t *testing.T) {
	triage := &fakeTriage{outcome: &model.Outcome{
		Status:    model.OutcomeFailed,
		Stage:     model.StageReply,
		ErrorCode: "reply_dispatch_failed",
	}}
	r := newTestEngine(triage, "")

	w := post(t, r, `{"sender":"a@b.com","recipient":"support@contoso.com","subject":"Pricing","body":"How much?"}`, "")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	triage := &fakeTriage{outcome: &model.Outcome{Status: model.OutcomeReplied}}
	r := newTestEngine(triage, "")

	w := post(t, r, `{"subject": 42`, "")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if triage.got != nil {
		t.Errorf("pipeline ran on a malformed payload")
	}
}

func TestWebhookRequiresFields(t *testing.T) {
	// message_id 以外的文本字段都是必填的
	tests := []struct {
		name string
		body string
	}{
		{name: "missing sender", body: `{"recipient":"c@d.com","subject":"Pricing","body":"How much?"}`},
		{name: "missing recipient", body: `{"sender":"a@b.com","subject":"Pricing","body":"How much?"}`},
		{name: "missing subject", body: `{"sender":"a@b.com","recipient":"c@d.com","body":"How much?"}`},
		{name: "missing body", body: `{"sender":"a@b.com","recipient":"c@d.com","subject":"Pricing"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			triage := &fakeTriage{outcome: &model.Outcome{Status: model.OutcomeReplied}}
			r := newTestEngine(triage, "")

			if w := post(t, r, tc.body, ""); w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if triage.got != nil {
				t.Errorf("pipeline ran on an incomplete payload")
			}
		})
	}
}

func TestWebhookSecret(t *testing.T) {
	triage := &fakeTriage{outcome: &model.Outcome{Status: model.OutcomeReplied}}
	r := newTestEngine(triage, "s3cret")

	valid := `{"sender":"a@b.com","recipient":"c@d.com","subject":"Pricing","body":"How much?"}`

	if w := post(t, r, valid, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing secret: status = %d, want 401", w.Code)
	}
	if w := post(t, r, valid, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", w.Code)
	}
	if w := post(t, r, valid, "s3cret"); w.Code != http.StatusOK {
		t.Errorf("correct secret: status = %d, want 200", w.Code)
	}
}
