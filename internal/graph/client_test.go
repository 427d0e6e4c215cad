package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"mailtriage/config"
)

type staticTokens struct{ token string }

func (s staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }

func newTestGraphClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.GraphConfig{
		Mailbox: "support@contoso.com",
	}, staticTokens{token: "tok-123"}, zap.NewNop())
	c.baseURL = srv.URL
	return c
}

func TestReplyToMessage(t *testing.T) {
	var gotPath, gotAuth, gotComment string

	c := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		var body struct {
			Comment string `json:"comment"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotComment = body.Comment

		w.WriteHeader(http.StatusAccepted)
	})

	err := c.ReplyToMessage(context.Background(), "msg-1", "Thanks for reaching out.<br>Support")
	if err != nil {
		t.Fatalf("ReplyToMessage: %v", err)
	}

	if gotPath != "/users/support@contoso.com/messages/msg-1/reply" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotComment != "Thanks for reaching out.<br>Support" {
		t.Errorf("comment = %q", gotComment)
	}
}

func TestSearchBySubject(t *testing.T) {
	var gotFilter string

	c := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("$filter")
		json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]string{
				{"id": "msg-9"},
				{"id": "msg-10"},
			},
		})
	})

	ids, err := c.SearchBySubject(context.Background(), "Bob's pricing question")
	if err != nil {
		t.Fatalf("SearchBySubject: %v", err)
	}

	if len(ids) != 2 || ids[0] != "msg-9" {
		t.Errorf("ids = %v", ids)
	}
	if gotFilter != "subject eq 'Bob''s pricing question'" {
		t.Errorf("filter = %q", gotFilter)
	}
}

func TestSearchBySubjectEmpty(t *testing.T) {
	c := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	})

	ids, err := c.SearchBySubject(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("SearchBySubject: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty", ids)
	}
}

func TestSendMail(t *testing.T) {
	var gotPayload map[string]any

	c := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusAccepted)
	})

	err := c.SendMail(context.Background(), "ops@contoso.com", "[HIGH PRIORITY] Customer Email: Outage", "<p>details</p>")
	if err != nil {
		t.Fatalf("SendMail: %v", err)
	}

	msg := gotPayload["message"].(map[string]any)
	if msg["subject"] != "[HIGH PRIORITY] Customer Email: Outage" {
		t.Errorf("subject = %v", msg["subject"])
	}
	body := msg["body"].(map[string]any)
	if body["contentType"] != "HTML" {
		t.Errorf("contentType = %v", body["contentType"])
	}
}

func TestMoveMessage(t *testing.T) {
	var gotPath string
	var gotDest string

	c := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body struct {
			DestinationID string `json:"destinationId"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotDest = body.DestinationID
		w.WriteHeader(http.StatusCreated)
	})

	if err := c.MoveMessage(context.Background(), "msg-1", "folder-processed"); err != nil {
		t.Fatalf("MoveMessage: %v", err)
	}
	if gotPath != "/users/support@contoso.com/messages/msg-1/move" {
		t.Errorf("path = %q", gotPath)
	}
	if gotDest != "folder-processed" {
		t.Errorf("destinationId = %q", gotDest)
	}
}

func TestGraphErrorStatus(t *testing.T) {
	c := newTestGraphClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	if err := c.ReplyToMessage(context.Background(), "msg-1", "x"); err == nil {
		t.Fatal("expected error on 502 response")
	}
}
