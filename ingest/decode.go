package ingest

import (
	"errors"
	"fmt"
	"strings"

	"harvester/core"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/xeipuuv/gojsonschema"
)

// ErrDecode is returned for payloads that cannot be decoded
var ErrDecode = errors.New("failed to decode payload")

// controlSchema is the minimal shape of a control message. Everything else is
// read through JSON pointers and may be absent.
const controlSchema = `{
	"type": "object",
	"required": ["action"],
	"properties": {
		"action": {"type": "string", "minLength": 1},
		"agent_info": {
			"type": "object",
			"properties": {"agent_id": {"type": "string"}}
		},
		"data": {
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"full_path": {"type": "string"}
			}
		}
	}
}`

var controlSchemaLoader = gojsonschema.NewStringLoader(controlSchema)

// DecodeDelta decodes a MessagePack delta record
func DecodeDelta(data []byte) (core.RawEvent, error) {
	if len(data) == 0 {
		return core.RawEvent{}, fmt.Errorf("%w: empty delta", ErrDecode)
	}
	var delta core.Delta
	if err := msgpack.Unmarshal(data, &delta); err != nil {
		return core.RawEvent{}, fmt.Errorf("%w: delta: %v", ErrDecode, err)
	}
	return core.NewDeltaEvent(&delta), nil
}

// DecodeSyncMsg decodes a MessagePack synchronization message
func DecodeSyncMsg(data []byte) (core.RawEvent, error) {
	if len(data) == 0 {
		return core.RawEvent{}, fmt.Errorf("%w: empty sync message", ErrDecode)
	}
	var msg core.SyncMsg
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return core.RawEvent{}, fmt.Errorf("%w: sync message: %v", ErrDecode, err)
	}
	return core.NewSyncEvent(&msg), nil
}

// DecodeControl validates and decodes a JSON control message
func DecodeControl(data []byte) (core.RawEvent, error) {
	result, err := gojsonschema.Validate(controlSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return core.RawEvent{}, fmt.Errorf("%w: control message: %v", ErrDecode, err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return core.RawEvent{}, fmt.Errorf("%w: control message: %s", ErrDecode, strings.Join(errs, "; "))
	}

	msg, err := core.ParseControlMessage(data)
	if err != nil {
		return core.RawEvent{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return core.NewControlEvent(msg), nil
}

// Decoder decodes one payload kind
type Decoder func(data []byte) (core.RawEvent, error)

// Payload kinds accepted by the listener
const (
	KindDelta   = "delta"
	KindSync    = "sync"
	KindControl = "control"
)

// DecoderFor returns the decoder of kind
func DecoderFor(kind string) (Decoder, bool) {
	switch kind {
	case KindDelta:
		return DecodeDelta, true
	case KindSync:
		return DecodeSyncMsg, true
	case KindControl:
		return DecodeControl, true
	}
	return nil, false
}
