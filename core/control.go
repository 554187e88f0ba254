package core

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonpointer"
)

var (
	pointerAction   = mustPointer("/action")
	pointerAgentID  = mustPointer("/agent_info/agent_id")
	pointerFullPath = mustPointer("/data/full_path")
	pointerPath     = mustPointer("/data/path")
)

func mustPointer(p string) gojsonpointer.JsonPointer {
	ptr, err := gojsonpointer.NewJsonPointer(p)
	if err != nil {
		panic(fmt.Sprintf("invalid json pointer %q: %v", p, err))
	}
	return ptr
}

// ControlMessage is a loosely typed JSON control document
type ControlMessage struct {
	doc interface{}
}

// NewControlMessage wraps an already decoded JSON document
func NewControlMessage(doc interface{}) *ControlMessage {
	return &ControlMessage{doc: doc}
}

// ParseControlMessage decodes raw JSON into a ControlMessage
func ParseControlMessage(data []byte) (*ControlMessage, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse control message: %w", err)
	}
	return &ControlMessage{doc: doc}, nil
}

// Document returns the underlying decoded document
func (c *ControlMessage) Document() interface{} {
	return c.doc
}

// String returns the string found at ptr. ok is false when the pointer
// does not resolve or the value is not a string.
func (c *ControlMessage) String(ptr gojsonpointer.JsonPointer) (string, bool) {
	if c == nil || c.doc == nil {
		return "", false
	}
	v, _, err := ptr.Get(c.doc)
	if err != nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Action returns the /action field
func (c *ControlMessage) Action() (string, bool) {
	return c.String(pointerAction)
}

func (c *ControlMessage) agentID() string {
	s, _ := c.String(pointerAgentID)
	return s
}

func (c *ControlMessage) fullPath() string {
	s, _ := c.String(pointerFullPath)
	return s
}

func (c *ControlMessage) path() string {
	s, _ := c.String(pointerPath)
	return s
}
