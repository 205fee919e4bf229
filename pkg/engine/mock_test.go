package engine

import (
	"context"
	"fmt"
	"sync"
)

// widget is a minimal entity used across the engine tests.
type widget struct {
	ID    string  `json:"id,omitempty"`
	Name  string  `json:"name"`
	Label *string `json:"label,omitempty"`
}

func strPtr(s string) *string { return &s }

func widgetSchema() Schema[widget, string] {
	return Schema[widget, string]{
		Kind:      "widget",
		Version:   "v1.0.0",
		PrimaryOf: func(w *widget) string { return w.ID },
		UniqueOf: func(w *widget) (string, bool) {
			return w.Name, w.Name != ""
		},
		IdempotencyFields: func(w *widget) any {
			return map[string]any{"name": w.Name}
		},
	}
}

// mockRepo is an in-memory Repository honoring idempotency keys.
type mockRepo struct {
	mu          sync.Mutex
	items       map[string]widget
	byIdemKey   map[string]string
	nextID      int
	createCalls int
	updateCalls int
	idemKeys    []string
	createErr   error
	dropID      bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		items:     make(map[string]widget),
		byIdemKey: make(map[string]string),
	}
}

func (m *mockRepo) seed(w widget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[w.ID] = w
}

func (m *mockRepo) Get(_ context.Context, id string) (*widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *mockRepo) FindByUnique(_ context.Context, name string) ([]widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []widget
	for _, w := range m.items {
		if w.Name == name {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *mockRepo) Create(_ context.Context, desired *widget, idemKey string) (*widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.idemKeys = append(m.idemKeys, idemKey)
	if m.createErr != nil {
		return nil, m.createErr
	}
	if id, ok := m.byIdemKey[idemKey]; ok {
		w := m.items[id]
		return &w, nil
	}
	m.nextID++
	created := *desired
	created.ID = fmt.Sprintf("wid_%d", m.nextID)
	m.items[created.ID] = created
	m.byIdemKey[idemKey] = created.ID
	if m.dropID {
		created.ID = ""
	}
	return &created, nil
}

func (m *mockRepo) Update(_ context.Context, found *widget, desired *widget) (*widget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	updated := m.items[found.ID]
	if desired.Label != nil {
		updated.Label = desired.Label
	}
	m.items[found.ID] = updated
	return &updated, nil
}

// memJournal collects operation records.
type memJournal struct {
	mu      sync.Mutex
	records []OperationRecord
}

func (j *memJournal) Record(_ context.Context, rec OperationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *memJournal) actions() []OperationType {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]OperationType, 0, len(j.records))
	for _, r := range j.records {
		out = append(out, r.Action)
	}
	return out
}
