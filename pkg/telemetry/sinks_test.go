package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogSubscriber(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	ep.Subscribe(LogSubscriber(logger), FilterByLevel(EventLevelWarning))

	_ = ep.PublishRunStarted("run-1", "apply")
	_ = ep.PublishEntityFailed("invoice", "ada@example.com/2024-05", "transition", "invoice is not open")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("logged %d lines, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}
	if entry["level"] != "error" {
		t.Errorf("level = %v, want error", entry["level"])
	}
	if entry["event"] != EventTypeEntityFailed || entry["kind"] != "invoice" {
		t.Errorf("unexpected entry %v", entry)
	}
	if entry["reason"] != "invoice is not open" {
		t.Errorf("reason = %v", entry["reason"])
	}
}

func TestJSONSubscriber(t *testing.T) {
	var buf bytes.Buffer

	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	ep.Subscribe(JSONSubscriber(&buf), nil)

	_ = ep.PublishRunStarted("run-1", "apply")
	_ = ep.PublishInvoiceTransitioned("in_1", "open", "draft", "open")

	var types []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("invalid event line %q: %v", scanner.Text(), err)
		}
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Errorf("event %s is missing id or timestamp", e.Type)
		}
		types = append(types, e.Type)
	}
	if len(types) != 2 || types[0] != EventTypeRunStarted || types[1] != EventTypeInvoiceTransitioned {
		t.Errorf("events = %v", types)
	}
}
