package core

// RawEvent is a tagged union over the three inbound payload shapes.
// Exactly one arm is populated; the zero value is invalid.
type RawEvent struct {
	variant VariantType
	delta   *Delta
	sync    *SyncMsg
	control *ControlMessage
}

// NewDeltaEvent wraps a decoded delta record
func NewDeltaEvent(d *Delta) RawEvent {
	if d == nil {
		return RawEvent{variant: VariantInvalid}
	}
	return RawEvent{variant: VariantDelta, delta: d}
}

// NewSyncEvent wraps a decoded synchronization message
func NewSyncEvent(m *SyncMsg) RawEvent {
	if m == nil {
		return RawEvent{variant: VariantInvalid}
	}
	return RawEvent{variant: VariantSyncMsg, sync: m}
}

// NewControlEvent wraps a JSON control message
func NewControlEvent(c *ControlMessage) RawEvent {
	if c == nil {
		return RawEvent{variant: VariantInvalid}
	}
	return RawEvent{variant: VariantJSON, control: c}
}

// Type returns the populated arm
func (r RawEvent) Type() VariantType {
	if r.variant == "" {
		return VariantInvalid
	}
	return r.variant
}

// Delta returns the delta arm, or nil
func (r RawEvent) Delta() *Delta { return r.delta }

// SyncMsg returns the sync arm, or nil
func (r RawEvent) SyncMsg() *SyncMsg { return r.sync }

// Control returns the JSON arm, or nil
func (r RawEvent) Control() *ControlMessage { return r.control }
