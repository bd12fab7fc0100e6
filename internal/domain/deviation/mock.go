package deviation

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MockSink is an in-memory AlertSink for tests. Saved alerts become part
// of its history, so AlreadyAlerted behaves like a real sink afterwards.
type MockSink struct {
	mu       sync.Mutex
	active   map[string]bool
	resolved map[string]bool
	saved    []Alert
	sent     []string

	// CheckErr and SaveErr, when set, are returned by the matching method.
	CheckErr error
	SaveErr  error
}

func NewMockSink() *MockSink {
	return &MockSink{
		active:   make(map[string]bool),
		resolved: make(map[string]bool),
	}
}

func sinkKey(kind, sourceID string) string {
	return kind + "|" + sourceID
}

// SetAlerted seeds the sink's history. Resolved alerts only count when the
// caller asks for them.
func (m *MockSink) SetAlerted(kind, sourceID string, isResolved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if isResolved {
		m.resolved[sinkKey(kind, sourceID)] = true
	} else {
		m.active[sinkKey(kind, sourceID)] = true
	}
}

// Saved returns a copy of all alerts saved so far.
func (m *MockSink) Saved() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.saved))
	copy(out, m.saved)
	return out
}

// Sent returns the alert ids marked sent.
func (m *MockSink) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockSink) AlreadyAlerted(_ context.Context, kind, sourceID string, includeResolved bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CheckErr != nil {
		return false, m.CheckErr
	}
	key := sinkKey(kind, sourceID)
	if m.active[key] {
		return true, nil
	}
	if includeResolved && m.resolved[key] {
		return true, nil
	}
	return false, nil
}

func (m *MockSink) SaveAlert(_ context.Context, a Alert) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return "", m.SaveErr
	}
	m.saved = append(m.saved, a)
	m.active[sinkKey(a.Kind, a.SourceID)] = true
	return uuid.New().String(), nil
}

func (m *MockSink) MarkSent(_ context.Context, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alertID)
	return nil
}
