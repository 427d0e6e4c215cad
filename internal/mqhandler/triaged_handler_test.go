package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"mailtriage/pkg/mq"
)

type fakeStore struct {
	inserted []*mq.EmailTriagedPayload
	err      error
}

func (f *fakeStore) Insert(_ context.Context, p *mq.EmailTriagedPayload) error {
	f.inserted = append(f.inserted, p)
	return f.err
}

type fakeDeduper struct {
	duplicate bool
}

func (f *fakeDeduper) AcquireOnce(_ context.Context, _, _ string) bool {
	return !f.duplicate
}

type fakeRetries struct {
	attempts int64
	resets   []string
}

func (f *fakeRetries) IncrementAndGet(_ context.Context, _ string) (int64, error) {
	f.attempts++
	return f.attempts, nil
}

func (f *fakeRetries) Reset(_ context.Context, key string) error {
	f.resets = append(f.resets, key)
	return nil
}

type fakeDLQ struct {
	parked []string
}

func (f *fakeDLQ) PublishToDLQ(_ string, payload []byte, _ string) error {
	f.parked = append(f.parked, string(payload))
	return nil
}

func payload(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(mq.EmailTriagedPayload{
		MessageID: "msg-1",
		Sender:    "a@b.com",
		Subject:   "Pricing",
		Status:    "replied",
		Priority:  "low-priority",
		Distance:  0.05,
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestHandleEmailTriagedInserts(t *testing.T) {
	store := &fakeStore{}
	retries := &fakeRetries{}
	h := NewTriagedHandler(store, &fakeDeduper{}, retries, &fakeDLQ{}, zap.NewNop())

	if err := h.HandleEmailTriaged(context.Background(), payload(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.inserted) != 1 || store.inserted[0].MessageID != "msg-1" {
		t.Errorf("inserted = %+v", store.inserted)
	}
	if len(retries.resets) != 1 {
		t.Errorf("retry counter not reset after success")
	}
}

func TestHandleEmailTriagedBadPayloadAcked(t *testing.T) {
	store := &fakeStore{}
	h := NewTriagedHandler(store, &fakeDeduper{}, &fakeRetries{}, &fakeDLQ{}, zap.NewNop())

	// 坏 payload 必须 ack，不然会无限重投
	if err := h.HandleEmailTriaged(context.Background(), json.RawMessage(`{"message_id": 42`)); err != nil {
		t.Fatalf("bad payload should be acked, got %v", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("insert ran for bad payload")
	}
}

func TestHandleEmailTriagedDuplicateSkipped(t *testing.T) {
	store := &fakeStore{}
	h := NewTriagedHandler(store, &fakeDeduper{duplicate: true}, &fakeRetries{}, &fakeDLQ{}, zap.NewNop())

	if err := h.HandleEmailTriaged(context.Background(), payload(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("insert ran for duplicate delivery")
	}
}

func TestHandleEmailTriagedRetryableError(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	dlq := &fakeDLQ{}
	h := NewTriagedHandler(store, &fakeDeduper{}, &fakeRetries{}, dlq, zap.NewNop())

	if err := h.HandleEmailTriaged(context.Background(), payload(t)); err == nil {
		t.Fatal("retryable failure must nack")
	}
	if len(dlq.parked) != 0 {
		t.Errorf("parked before retry budget exhausted")
	}
}

func TestHandleEmailTriagedRetryBudgetExhausted(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	dlq := &fakeDLQ{}
	retries := &fakeRetries{attempts: maxRetries - 1} // 下一次就到顶
	h := NewTriagedHandler(store, &fakeDeduper{}, retries, dlq, zap.NewNop())

	if err := h.HandleEmailTriaged(context.Background(), payload(t)); err != nil {
		t.Fatalf("exhausted message must be acked, got %v", err)
	}
	if len(dlq.parked) != 1 {
		t.Errorf("message not parked in DLQ")
	}
}

func TestHandleEmailTriagedNonRetryableParksImmediately(t *testing.T) {
	store := &fakeStore{err: errors.New(`duplicate key value violates unique constraint "triage_events_pkey"`)}
	dlq := &fakeDLQ{}
	h := NewTriagedHandler(store, &fakeDeduper{}, &fakeRetries{}, dlq, zap.NewNop())

	if err := h.HandleEmailTriaged(context.Background(), payload(t)); err != nil {
		t.Fatalf("non-retryable failure must be acked, got %v", err)
	}
	if len(dlq.parked) != 1 {
		t.Errorf("non-retryable message not parked")
	}
}
