package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailtriage/config"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/metrics"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// TokenSource provides the bearer token for Graph calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is the mail gateway: reply, search-by-subject, move and
// send-notification against the Microsoft Graph mailbox the triage
// service watches. All calls run under one circuit breaker.
type Client struct {
	baseURL    string
	mailbox    string
	tokens     TokenSource
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewClient(cfg config.GraphConfig, tokens TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		mailbox: cfg.Mailbox,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		cb:     circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger: logger,
	}
}

// ReplyToMessage replies to the message in-thread with an HTML comment body.
func (c *Client) ReplyToMessage(ctx context.Context, messageID, htmlBody string) error {
	path := fmt.Sprintf("/users/%s/messages/%s/reply", url.PathEscape(c.mailbox), url.PathEscape(messageID))
	payload := map[string]string{"comment": htmlBody}
	return c.do(ctx, "reply", http.MethodPost, path, payload, nil)
}

type messageList struct {
	Value []struct {
		ID string `json:"id"`
	} `json:"value"`
}

// SearchBySubject returns ids of mailbox messages whose subject matches exactly.
func (c *Client) SearchBySubject(ctx context.Context, subject string) ([]string, error) {
	// OData 字符串字面量里单引号要双写
	escaped := strings.ReplaceAll(subject, "'", "''")
	filter := url.QueryEscape(fmt.Sprintf("subject eq '%s'", escaped))
	path := fmt.Sprintf("/users/%s/messages?$filter=%s&$select=id&$top=25",
		url.PathEscape(c.mailbox), filter)

	var list messageList
	if err := c.do(ctx, "search", http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(list.Value))
	for _, m := range list.Value {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// MoveMessage moves a message to the given mail folder.
func (c *Client) MoveMessage(ctx context.Context, messageID, folderID string) error {
	path := fmt.Sprintf("/users/%s/messages/%s/move", url.PathEscape(c.mailbox), url.PathEscape(messageID))
	payload := map[string]string{"destinationId": folderID}
	return c.do(ctx, "move", http.MethodPost, path, payload, nil)
}

// SendMail sends a standalone HTML mail from the mailbox (used for
// internal priority notifications).
func (c *Client) SendMail(ctx context.Context, to, subject, htmlBody string) error {
	path := fmt.Sprintf("/users/%s/sendMail", url.PathEscape(c.mailbox))
	payload := map[string]any{
		"message": map[string]any{
			"subject": subject,
			"body": map[string]string{
				"contentType": "HTML",
				"content":     htmlBody,
			},
			"toRecipients": []map[string]any{
				{"emailAddress": map[string]string{"address": to}},
			},
		},
		"saveToSentItems": true,
	}
	return c.do(ctx, "sendMail", http.MethodPost, path, payload, nil)
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, payload, out any) error {
	return c.cb.Execute(func() error {
		start := time.Now()

		token, err := c.tokens.Token(ctx)
		if err != nil {
			metrics.RecordGraphCallLatency(endpoint, "auth_error", time.Since(start))
			return err
		}

		var body io.Reader
		if payload != nil {
			b, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			body = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		latency := time.Since(start)
		if err != nil {
			metrics.RecordGraphCallLatency(endpoint, "error", latency)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			metrics.RecordGraphCallLatency(endpoint, fmt.Sprintf("%d", resp.StatusCode), latency)
			return fmt.Errorf("graph %s returned status %d", endpoint, resp.StatusCode)
		}

		metrics.RecordGraphCallLatency(endpoint, "success", latency)

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode graph %s response: %w", endpoint, err)
			}
		}
		return nil
	})
}
