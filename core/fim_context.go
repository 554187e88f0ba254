package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// ISO8601Millis is the layout used for MtimeISO8601
const ISO8601Millis = "2006-01-02T15:04:05.000Z"

// FimContext is the classified view of one RawEvent. Classification happens once in
// NewFimContext; derived fields are computed on first access and cached.
type FimContext struct {
	raw         RawEvent
	operation   Operation
	component   AffectedComponentType
	originTable OriginTable

	pathOnce      sync.Once
	path          string
	hashOnce      sync.Once
	hashedPath    string
	keyOnce       sync.Once
	key           string
	hiveOnce      sync.Once
	hive          string
	valueNameOnce sync.Once
	valueName     string
	mtimeOnce     sync.Once
	mtimeISO      string

	serialized string
}

// NewFimContext classifies raw. A *ClassificationError is returned when the payload
// cannot be mapped to an operation. An integrity_clear for an untracked component
// yields a context that is not Classified and a nil error.
func NewFimContext(raw RawEvent) (*FimContext, error) {
	c := &FimContext{
		raw:         raw,
		operation:   OperationInvalid,
		component:   ComponentInvalid,
		originTable: OriginInvalid,
	}

	var err error
	switch raw.Type() {
	case VariantDelta:
		err = c.classifyDelta()
	case VariantSyncMsg:
		err = c.classifySync()
	case VariantJSON:
		err = c.classifyControl()
	default:
		return nil, ErrUnknownEvent
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *FimContext) classify(op Operation, component AffectedComponentType, origin OriginTable) {
	c.operation = op
	c.component = component
	c.originTable = origin
}

func (c *FimContext) classifyDelta() error {
	data := c.raw.delta.Data
	if data == nil || data.Type == nil {
		return classificationError(VariantDelta, "data.type", "")
	}

	var op Operation
	switch *data.Type {
	case DeltaAdded, DeltaModified:
		op = OperationUpsert
	case DeltaDeleted:
		op = OperationDelete
	default:
		return classificationError(VariantDelta, "data.type", *data.Type)
	}

	if data.Attributes == nil || data.Attributes.Type == nil {
		return classificationError(VariantDelta, "data.attributes.type", "")
	}
	switch *data.Attributes.Type {
	case AttributeRegistryKey:
		c.classify(op, ComponentRegistry, OriginRegistryKey)
	case AttributeRegistryValue:
		c.classify(op, ComponentRegistry, OriginRegistryValue)
	case AttributeFile:
		c.classify(op, ComponentFile, OriginFile)
	default:
		return classificationError(VariantDelta, "data.attributes.type", *data.Attributes.Type)
	}
	return nil
}

func (c *FimContext) classifySync() error {
	msg := c.raw.sync
	switch msg.DataType {
	case SyncDataState:
		var attrType AttributesType
		if s := msg.DataAsState(); s != nil {
			attrType = s.AttributesType
		}
		switch attrType {
		case AttributesFimFile:
			c.classify(OperationUpsert, ComponentFile, OriginFile)
		case AttributesFimRegistryKey:
			c.classify(OperationUpsert, ComponentRegistry, OriginRegistryKey)
		case AttributesFimRegistryValue:
			c.classify(OperationUpsert, ComponentRegistry, OriginRegistryValue)
		default:
			return classificationError(VariantSyncMsg, "state.attributes_type", string(attrType))
		}

	case SyncDataIntegrityClear:
		var attrType string
		if ic := msg.DataAsIntegrityClear(); ic != nil {
			attrType = deref(ic.AttributesType)
		}
		switch attrType {
		case SyncComponentFile:
			c.classify(OperationDeleteAllEntries, ComponentFile, OriginFile)
		case SyncComponentRegistryKey:
			c.classify(OperationDeleteAllEntries, ComponentRegistry, OriginRegistryKey)
		case SyncComponentRegistryValue:
			c.classify(OperationDeleteAllEntries, ComponentRegistry, OriginRegistryValue)
		}
		// untracked components are left unclassified

	case SyncDataIntegrityCheckGlobal:
		var attrType string
		if ic := msg.DataAsIntegrityCheckGlobal(); ic != nil {
			attrType = deref(ic.AttributesType)
		}
		switch attrType {
		case SyncComponentFile:
			c.classify(OperationIndexSync, ComponentFile, OriginInvalid)
		case SyncComponentRegistryKey, SyncComponentRegistryValue:
			// both registry kinds live in the same index
			c.classify(OperationIndexSync, ComponentRegistry, OriginInvalid)
		default:
			return classificationError(VariantSyncMsg, "integrity_check_global.attributes_type", attrType)
		}

	default:
		return classificationError(VariantSyncMsg, "data_type", string(msg.DataType))
	}
	return nil
}

func (c *FimContext) classifyControl() error {
	action, ok := c.raw.control.Action()
	if !ok {
		return classificationError(VariantJSON, "action", "")
	}
	switch action {
	case ActionDeleteAgent:
		c.operation = OperationDeleteAgent
	case ActionDeleteFile:
		c.classify(OperationDelete, ComponentFile, OriginFile)
	case ActionDeleteRegistryKey:
		c.classify(OperationDelete, ComponentRegistry, OriginRegistryKey)
	case ActionDeleteRegistryValue:
		c.classify(OperationDelete, ComponentRegistry, OriginRegistryValue)
	case ActionUpgradeAgentDB:
		c.operation = OperationUpgradeAgentDB
	default:
		return classificationError(VariantJSON, "action", action)
	}
	return nil
}

// Operation returns the classified operation
func (c *FimContext) Operation() Operation { return c.operation }

// AffectedComponentType returns the coarse entity class
func (c *FimContext) AffectedComponentType() AffectedComponentType { return c.component }

// OriginTable returns the fine-grained entity kind
func (c *FimContext) OriginTable() OriginTable { return c.originTable }

// Variant returns the arm of the underlying RawEvent
func (c *FimContext) Variant() VariantType { return c.raw.Type() }

// Raw returns the underlying event
func (c *FimContext) Raw() RawEvent { return c.raw }

// Classified is false for events skipped without error
func (c *FimContext) Classified() bool { return c.operation != OperationInvalid }

// ElementType names the entity kind in published documents
func (c *FimContext) ElementType() string {
	switch c.originTable {
	case OriginFile:
		return "file"
	case OriginRegistryKey:
		return "registry_key"
	case OriginRegistryValue:
		return "registry_value"
	default:
		return "invalid"
	}
}

// SetSerializedElement stores the document produced by the build stage
func (c *FimContext) SetSerializedElement(doc string) { c.serialized = doc }

// SerializedElement returns the document stored by SetSerializedElement
func (c *FimContext) SerializedElement() string { return c.serialized }

func (c *FimContext) agentInfo() *AgentInfo {
	switch c.raw.Type() {
	case VariantDelta:
		return c.raw.delta.AgentInfo
	case VariantSyncMsg:
		return c.raw.sync.AgentInfo
	}
	return nil
}

func (c *FimContext) deltaData() *DeltaData {
	if c.raw.Type() != VariantDelta {
		return nil
	}
	return c.raw.delta.Data
}

func (c *FimContext) deltaAttributes() *DeltaAttributes {
	if d := c.deltaData(); d != nil {
		return d.Attributes
	}
	return nil
}

func (c *FimContext) state() *SyncState {
	if c.raw.Type() != VariantSyncMsg {
		return nil
	}
	return c.raw.sync.DataAsState()
}

// AgentID returns the agent identifier
func (c *FimContext) AgentID() string {
	if c.raw.Type() == VariantJSON {
		return c.raw.control.agentID()
	}
	if ai := c.agentInfo(); ai != nil {
		return deref(ai.AgentID)
	}
	return ""
}

// AgentName returns the agent name
func (c *FimContext) AgentName() string {
	if ai := c.agentInfo(); ai != nil {
		return deref(ai.AgentName)
	}
	return ""
}

// AgentIP returns the agent address
func (c *FimContext) AgentIP() string {
	if ai := c.agentInfo(); ai != nil {
		return deref(ai.AgentIP)
	}
	return ""
}

// AgentVersion returns the agent version
func (c *FimContext) AgentVersion() string {
	if ai := c.agentInfo(); ai != nil {
		return deref(ai.AgentVersion)
	}
	return ""
}

// Index returns the element index field
func (c *FimContext) Index() string {
	switch c.raw.Type() {
	case VariantDelta:
		if d := c.deltaData(); d != nil {
			return deref(d.Index)
		}
	case VariantSyncMsg:
		if s := c.state(); s != nil {
			return deref(s.Index)
		}
	case VariantJSON:
		return c.raw.control.fullPath()
	}
	return ""
}

// PathRaw returns the unsanitized path
func (c *FimContext) PathRaw() string {
	switch c.raw.Type() {
	case VariantDelta:
		if d := c.deltaData(); d != nil {
			return deref(d.Path)
		}
	case VariantSyncMsg:
		s := c.state()
		if s == nil {
			return ""
		}
		// the tag alone is not enough, the attribute arm must be present
		switch {
		case s.AttributesAsFimFile() != nil:
			return deref(s.Index)
		case s.AttributesAsFimRegistryKey() != nil, s.AttributesAsFimRegistryValue() != nil:
			return deref(s.Path)
		}
	case VariantJSON:
		return c.raw.control.path()
	}
	return ""
}

// ValueNameRaw returns the registry value name as received
func (c *FimContext) ValueNameRaw() string {
	if d := c.deltaData(); d != nil {
		return deref(d.ValueName)
	}
	if s := c.state(); s != nil {
		return deref(s.ValueName)
	}
	return ""
}

// Arch returns the registry view architecture
func (c *FimContext) Arch() string {
	if d := c.deltaData(); d != nil {
		return deref(d.Arch)
	}
	if s := c.state(); s != nil {
		return deref(s.Arch)
	}
	return ""
}

// MD5 returns the md5 content hash
func (c *FimContext) MD5() string {
	if a := c.deltaAttributes(); a != nil {
		return deref(a.HashMD5)
	}
	if f := c.state().AttributesAsFimFile(); f != nil {
		return deref(f.HashMD5)
	}
	if v := c.state().AttributesAsFimRegistryValue(); v != nil {
		return deref(v.HashMD5)
	}
	return ""
}

// SHA1 returns the sha1 content hash
func (c *FimContext) SHA1() string {
	if a := c.deltaAttributes(); a != nil {
		return deref(a.HashSHA1)
	}
	if f := c.state().AttributesAsFimFile(); f != nil {
		return deref(f.HashSHA1)
	}
	if v := c.state().AttributesAsFimRegistryValue(); v != nil {
		return deref(v.HashSHA1)
	}
	return ""
}

// SHA256 returns the sha256 content hash
func (c *FimContext) SHA256() string {
	if a := c.deltaAttributes(); a != nil {
		return deref(a.HashSHA256)
	}
	if f := c.state().AttributesAsFimFile(); f != nil {
		return deref(f.HashSHA256)
	}
	if v := c.state().AttributesAsFimRegistryValue(); v != nil {
		return deref(v.HashSHA256)
	}
	return ""
}

// Size returns the content size in bytes
func (c *FimContext) Size() uint64 {
	if a := c.deltaAttributes(); a != nil {
		return a.Size
	}
	if f := c.state().AttributesAsFimFile(); f != nil {
		return f.Size
	}
	if v := c.state().AttributesAsFimRegistryValue(); v != nil {
		return v.Size
	}
	return 0
}

// Inode returns the file inode
func (c *FimContext) Inode() uint64 {
	if a := c.deltaAttributes(); a != nil {
		return a.Inode
	}
	if f := c.state().AttributesAsFimFile(); f != nil {
		return f.Inode
	}
	return 0
}

// ValueType returns the registry value type
func (c *FimContext) ValueType() string {
	if a := c.deltaAttributes(); a != nil {
		return deref(a.ValueType)
	}
	if v := c.state().AttributesAsFimRegistryValue(); v != nil {
		return deref(v.ValueType)
	}
	return ""
}

// UserName returns the owner name
func (c *FimContext) UserName() string {
	if a := c.deltaAttributes(); a != nil {
		return deref(a.UserName)
	}
	if f := c.state().AttributesAsFimFile(); f != nil {
		return deref(f.UserName)
	}
	if k := c.state().AttributesAsFimRegistryKey(); k != nil {
		return deref(k.UserName)
	}
	return ""
}

// GroupName returns the owning group name
func (c *FimContext) GroupName() string {
	if a := c.deltaAttributes(); a != nil {
		return deref(a.GroupName)
	}
	if f := c.state().AttributesAsFimFile(); f != nil {
		return deref(f.GroupName)
	}
	if k := c.state().AttributesAsFimRegistryKey(); k != nil {
		return deref(k.GroupName)
	}
	return ""
}

// UID returns the owner id
func (c *FimContext) UID() string {
	if a := c.deltaAttributes(); a != nil {
		return deref(a.UID)
	}
	if f := c.state().AttributesAsFimFile(); f != nil {
		return deref(f.UID)
	}
	if k := c.state().AttributesAsFimRegistryKey(); k != nil {
		return deref(k.UID)
	}
	return ""
}

// GID returns the group id
func (c *FimContext) GID() string {
	if a := c.deltaAttributes(); a != nil {
		return deref(a.GID)
	}
	if f := c.state().AttributesAsFimFile(); f != nil {
		return deref(f.GID)
	}
	if k := c.state().AttributesAsFimRegistryKey(); k != nil {
		return deref(k.GID)
	}
	return ""
}

// Mtime returns the raw modification time in epoch seconds
func (c *FimContext) Mtime() uint64 {
	if a := c.deltaAttributes(); a != nil {
		return a.Mtime
	}
	if f := c.state().AttributesAsFimFile(); f != nil {
		return f.Mtime
	}
	if k := c.state().AttributesAsFimRegistryKey(); k != nil {
		return k.Mtime
	}
	return 0
}

// Path returns the path with its hive abbreviated. Registry values get the
// value name appended.
func (c *FimContext) Path() string {
	c.pathOnce.Do(func() {
		p := sanitizePath(c.PathRaw())
		if c.originTable == OriginRegistryValue {
			p += "\\" + c.ValueName()
		}
		c.path = p
	})
	return c.path
}

// HashPath returns the lowercase hex sha256 of PathRaw
func (c *FimContext) HashPath() string {
	c.hashOnce.Do(func() {
		sum := sha256.Sum256([]byte(c.PathRaw()))
		c.hashedPath = hex.EncodeToString(sum[:])
	})
	return c.hashedPath
}

// Key returns the registry key path without its hive
func (c *FimContext) Key() string {
	c.keyOnce.Do(func() {
		c.key = registryKey(c.PathRaw())
	})
	return c.key
}

// Hive returns the abbreviated registry hive, or ""
func (c *FimContext) Hive() string {
	c.hiveOnce.Do(func() {
		c.hive = hiveOf(c.PathRaw())
	})
	return c.hive
}

// ValueName returns the registry value name
func (c *FimContext) ValueName() string {
	c.valueNameOnce.Do(func() {
		c.valueName = c.ValueNameRaw()
	})
	return c.valueName
}

// MtimeISO8601 formats Mtime as a UTC ISO-8601 timestamp
func (c *FimContext) MtimeISO8601() string {
	c.mtimeOnce.Do(func() {
		c.mtimeISO = time.Unix(int64(uint32(c.Mtime())), 0).UTC().Format(ISO8601Millis)
	})
	return c.mtimeISO
}

// ElementID is the document id of the element: <agent id>_<path hash>
func (c *FimContext) ElementID() string {
	return c.AgentID() + "_" + c.HashPath()
}
