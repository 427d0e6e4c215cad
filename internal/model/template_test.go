package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Priority
		wantErr bool
	}{
		{name: "empty defaults to no-action", in: "", want: PriorityNoAction},
		{name: "whitespace defaults to no-action", in: "  ", want: PriorityNoAction},
		{name: "no-action", in: "no-action", want: PriorityNoAction},
		{name: "low", in: "low-priority", want: PriorityLow},
		{name: "high", in: "high-priority", want: PriorityHigh},
		{name: "padded value", in: " high-priority ", want: PriorityHigh},
		{name: "unknown value", in: "urgent", wantErr: true},
		{name: "wrong case is an error", in: "High-Priority", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePriority(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidPriority) {
					t.Fatalf("got err %v, want ErrInvalidPriority", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPriorityLabel(t *testing.T) {
	if got := PriorityHigh.Label(); got != "HIGH PRIORITY" {
		t.Errorf("high label = %q", got)
	}
	if got := PriorityLow.Label(); got != "LOW PRIORITY" {
		t.Errorf("low label = %q", got)
	}
	if got := PriorityNoAction.Label(); got != "NO ACTION" {
		t.Errorf("no-action label = %q", got)
	}
}

func TestTemplateMetadataUnmarshalPreservesExtras(t *testing.T) {
	raw := []byte(`{
		"subject": "Pricing Inquiry",
		"body": "Hi,\\nThanks for reaching out.",
		"priority": "low-priority",
		"category": "sales",
		"owner": "plo1"
	}`)

	var m TemplateMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if m.Subject != "Pricing Inquiry" {
		t.Errorf("subject = %q", m.Subject)
	}
	if m.Priority != "low-priority" {
		t.Errorf("priority = %q", m.Priority)
	}
	if m.Extra["category"] != "sales" || m.Extra["owner"] != "plo1" {
		t.Errorf("extras not preserved: %#v", m.Extra)
	}
}

func TestTemplateMetadataNullPriority(t *testing.T) {
	// CSV 导入时空列会写成 null
	var m TemplateMetadata
	if err := json.Unmarshal([]byte(`{"subject":"x","priority":null}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Priority != "" {
		t.Errorf("priority = %q, want empty", m.Priority)
	}
}

func TestTemplateMetadataRoundTrip(t *testing.T) {
	m := TemplateMetadata{
		Subject:  "Refund Request",
		Body:     "We are sorry to hear that.",
		Priority: "high-priority",
		Extra:    map[string]any{"category": "support"},
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back TemplateMetadata
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Subject != m.Subject || back.Body != m.Body || back.Priority != m.Priority {
		t.Errorf("round trip lost fields: %#v", back)
	}
	if back.Extra["category"] != "support" {
		t.Errorf("round trip lost extras: %#v", back.Extra)
	}
}
