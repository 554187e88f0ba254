package storage

import (
	"context"
	"encoding/json"
	"sync"

	"harvester/config"
	"harvester/metrics"
)

// MemoryConnector keeps an index in process memory. It records every published
// message and applies it to a document map.
type MemoryConnector struct {
	index    string
	mu       sync.RWMutex
	messages []string
	docs     map[string]json.RawMessage
	closed   bool
}

// NewMemoryConnector returns an empty in-memory index
func NewMemoryConnector(index string) *MemoryConnector {
	return &MemoryConnector{index: index, docs: make(map[string]json.RawMessage)}
}

func (m *MemoryConnector) Publish(ctx context.Context, message string) error {
	msg, err := ParseMessage(message)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrConnectorClosed
	}

	m.messages = append(m.messages, message)
	switch msg.Operation {
	case OperationInserted:
		m.docs[msg.ID] = msg.Data
	case OperationDeleted:
		delete(m.docs, msg.ID)
	case OperationDeletedByQuery:
		for id := range m.docs {
			if agentOfID(id) == msg.ID {
				delete(m.docs, id)
			}
		}
	}
	metrics.DocumentsPublished.WithLabelValues(config.ConnectorMemory, msg.Operation).Inc()
	return nil
}

func (m *MemoryConnector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Index returns the index name
func (m *MemoryConnector) Index() string { return m.index }

// Messages returns every accepted message in publish order
func (m *MemoryConnector) Messages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.messages))
	copy(out, m.messages)
	return out
}

// Document returns the stored data of id
func (m *MemoryConnector) Document(id string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	return doc, ok
}

// Len returns the number of stored documents
func (m *MemoryConnector) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
