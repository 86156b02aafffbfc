package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu            sync.RWMutex
	settlements   []*SettlementEvent
	distributions []*DistributionEvent
	publishError  error
	closed        bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishSettlement records the event and returns any configured error.
func (m *MockPublisher) PublishSettlement(ctx context.Context, event *SettlementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.settlements = append(m.settlements, event)
	return nil
}

// PublishDistribution records the event and returns any configured error.
func (m *MockPublisher) PublishDistribution(ctx context.Context, event *DistributionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.distributions = append(m.distributions, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Settlements returns all published settlement events.
func (m *MockPublisher) Settlements() []*SettlementEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*SettlementEvent, len(m.settlements))
	copy(out, m.settlements)
	return out
}

// Distributions returns all published distribution events.
func (m *MockPublisher) Distributions() []*DistributionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*DistributionEvent, len(m.distributions))
	copy(out, m.distributions)
	return out
}

// SetPublishError configures the mock to return an error on publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
