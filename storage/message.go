package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message operations
const (
	OperationInserted       = "INSERTED"
	OperationDeleted        = "DELETED"
	OperationDeletedByQuery = "DELETED_BY_QUERY"
)

// Message is the decoded form of a published document. For DELETED_BY_QUERY the
// ID is the agent id; otherwise it is <agent id>_<path hash>.
type Message struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ParseMessage decodes and checks a published document
func ParseMessage(raw string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidMessage)
	}

	switch msg.Operation {
	case OperationInserted:
		if len(msg.Data) == 0 {
			return nil, fmt.Errorf("%w: %s without data", ErrInvalidMessage, msg.Operation)
		}
	case OperationDeleted, OperationDeletedByQuery:
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidMessage, msg.Operation)
	}
	return &msg, nil
}

// AgentID returns the agent the message belongs to
func (m *Message) AgentID() string {
	if m.Operation == OperationDeletedByQuery {
		return m.ID
	}
	return agentOfID(m.ID)
}

// agentOfID extracts the agent id from a document id <agent id>_<path hash>.
// The hash never contains '_', agent ids may.
func agentOfID(id string) string {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		return id[:i]
	}
	return id
}
