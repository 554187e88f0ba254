package core

// AgentInfo identifies the agent that produced an event
type AgentInfo struct {
	AgentID      *string `msgpack:"agent_id,omitempty" json:"agent_id,omitempty"`
	AgentName    *string `msgpack:"agent_name,omitempty" json:"agent_name,omitempty"`
	AgentIP      *string `msgpack:"agent_ip,omitempty" json:"agent_ip,omitempty"`
	AgentVersion *string `msgpack:"agent_version,omitempty" json:"agent_version,omitempty"`
}

// Delta is an incremental change record emitted by the live scanner
type Delta struct {
	AgentInfo *AgentInfo `msgpack:"agent_info,omitempty" json:"agent_info,omitempty"`
	Data      *DeltaData `msgpack:"data,omitempty" json:"data,omitempty"`
}

// DeltaData is the body of a Delta. Type carries the delta operation
// (added, modified, deleted).
type DeltaData struct {
	Type       *string          `msgpack:"type,omitempty" json:"type,omitempty"`
	Index      *string          `msgpack:"index,omitempty" json:"index,omitempty"`
	Path       *string          `msgpack:"path,omitempty" json:"path,omitempty"`
	ValueName  *string          `msgpack:"value_name,omitempty" json:"value_name,omitempty"`
	Arch       *string          `msgpack:"arch,omitempty" json:"arch,omitempty"`
	Attributes *DeltaAttributes `msgpack:"attributes,omitempty" json:"attributes,omitempty"`
}

// DeltaAttributes holds the entity attributes of a Delta. Type selects the entity
// kind (file, registry_key, registry_value).
type DeltaAttributes struct {
	Type       *string `msgpack:"type,omitempty" json:"type,omitempty"`
	Size       uint64  `msgpack:"size" json:"size"`
	Inode      uint64  `msgpack:"inode" json:"inode"`
	HashMD5    *string `msgpack:"hash_md5,omitempty" json:"hash_md5,omitempty"`
	HashSHA1   *string `msgpack:"hash_sha1,omitempty" json:"hash_sha1,omitempty"`
	HashSHA256 *string `msgpack:"hash_sha256,omitempty" json:"hash_sha256,omitempty"`
	ValueType  *string `msgpack:"value_type,omitempty" json:"value_type,omitempty"`
	UserName   *string `msgpack:"user_name,omitempty" json:"user_name,omitempty"`
	GroupName  *string `msgpack:"group_name,omitempty" json:"group_name,omitempty"`
	UID        *string `msgpack:"uid,omitempty" json:"uid,omitempty"`
	GID        *string `msgpack:"gid,omitempty" json:"gid,omitempty"`
	Mtime      uint64  `msgpack:"mtime" json:"mtime"`
}

// SyncDataType is the tag of the SyncMsg data union
type SyncDataType string

const (
	SyncDataNone                 SyncDataType = ""
	SyncDataState                SyncDataType = "state"
	SyncDataIntegrityClear       SyncDataType = "integrity_clear"
	SyncDataIntegrityCheckGlobal SyncDataType = "integrity_check_global"
)

// AttributesType is the tag of the state attributes union
type AttributesType string

const (
	AttributesNone             AttributesType = ""
	AttributesFimFile          AttributesType = SyncComponentFile
	AttributesFimRegistryKey   AttributesType = SyncComponentRegistryKey
	AttributesFimRegistryValue AttributesType = SyncComponentRegistryValue
)

// SyncMsg is a synchronization message. DataType selects which of State,
// IntegrityClear or IntegrityCheckGlobal is meaningful.
type SyncMsg struct {
	AgentInfo            *AgentInfo      `msgpack:"agent_info,omitempty" json:"agent_info,omitempty"`
	DataType             SyncDataType    `msgpack:"data_type" json:"data_type"`
	State                *SyncState      `msgpack:"state,omitempty" json:"state,omitempty"`
	IntegrityClear       *IntegrityClear `msgpack:"integrity_clear,omitempty" json:"integrity_clear,omitempty"`
	IntegrityCheckGlobal *IntegrityCheck `msgpack:"integrity_check_global,omitempty" json:"integrity_check_global,omitempty"`
}

// DataAsState returns the state arm, or nil when the message is not a state message
func (m *SyncMsg) DataAsState() *SyncState {
	if m.DataType != SyncDataState {
		return nil
	}
	return m.State
}

// DataAsIntegrityClear returns the integrity_clear arm, or nil
func (m *SyncMsg) DataAsIntegrityClear() *IntegrityClear {
	if m.DataType != SyncDataIntegrityClear {
		return nil
	}
	return m.IntegrityClear
}

// DataAsIntegrityCheckGlobal returns the integrity_check_global arm, or nil
func (m *SyncMsg) DataAsIntegrityCheckGlobal() *IntegrityCheck {
	if m.DataType != SyncDataIntegrityCheckGlobal {
		return nil
	}
	return m.IntegrityCheckGlobal
}

// SyncState is a full-state snapshot of one element
type SyncState struct {
	Index            *string                     `msgpack:"index,omitempty" json:"index,omitempty"`
	Path             *string                     `msgpack:"path,omitempty" json:"path,omitempty"`
	ValueName        *string                     `msgpack:"value_name,omitempty" json:"value_name,omitempty"`
	Arch             *string                     `msgpack:"arch,omitempty" json:"arch,omitempty"`
	Timestamp        uint64                      `msgpack:"timestamp" json:"timestamp"`
	AttributesType   AttributesType              `msgpack:"attributes_type" json:"attributes_type"`
	FimFile          *FimFileAttributes          `msgpack:"fim_file,omitempty" json:"fim_file,omitempty"`
	FimRegistryKey   *FimRegistryKeyAttributes   `msgpack:"fim_registry_key,omitempty" json:"fim_registry_key,omitempty"`
	FimRegistryValue *FimRegistryValueAttributes `msgpack:"fim_registry_value,omitempty" json:"fim_registry_value,omitempty"`
}

// AttributesAsFimFile returns the file attributes, or nil for other kinds
func (s *SyncState) AttributesAsFimFile() *FimFileAttributes {
	if s == nil || s.AttributesType != AttributesFimFile {
		return nil
	}
	return s.FimFile
}

// AttributesAsFimRegistryKey returns the registry key attributes, or nil
func (s *SyncState) AttributesAsFimRegistryKey() *FimRegistryKeyAttributes {
	if s == nil || s.AttributesType != AttributesFimRegistryKey {
		return nil
	}
	return s.FimRegistryKey
}

// AttributesAsFimRegistryValue returns the registry value attributes, or nil
func (s *SyncState) AttributesAsFimRegistryValue() *FimRegistryValueAttributes {
	if s == nil || s.AttributesType != AttributesFimRegistryValue {
		return nil
	}
	return s.FimRegistryValue
}

// FimFileAttributes are the attributes of a monitored file
type FimFileAttributes struct {
	Size       uint64  `msgpack:"size" json:"size"`
	Inode      uint64  `msgpack:"inode" json:"inode"`
	HashMD5    *string `msgpack:"hash_md5,omitempty" json:"hash_md5,omitempty"`
	HashSHA1   *string `msgpack:"hash_sha1,omitempty" json:"hash_sha1,omitempty"`
	HashSHA256 *string `msgpack:"hash_sha256,omitempty" json:"hash_sha256,omitempty"`
	UserName   *string `msgpack:"user_name,omitempty" json:"user_name,omitempty"`
	GroupName  *string `msgpack:"group_name,omitempty" json:"group_name,omitempty"`
	UID        *string `msgpack:"uid,omitempty" json:"uid,omitempty"`
	GID        *string `msgpack:"gid,omitempty" json:"gid,omitempty"`
	Mtime      uint64  `msgpack:"mtime" json:"mtime"`
}

// FimRegistryKeyAttributes are the attributes of a registry key
type FimRegistryKeyAttributes struct {
	UserName  *string `msgpack:"user_name,omitempty" json:"user_name,omitempty"`
	GroupName *string `msgpack:"group_name,omitempty" json:"group_name,omitempty"`
	UID       *string `msgpack:"uid,omitempty" json:"uid,omitempty"`
	GID       *string `msgpack:"gid,omitempty" json:"gid,omitempty"`
	Mtime     uint64  `msgpack:"mtime" json:"mtime"`
}

// FimRegistryValueAttributes are the attributes of a registry value
type FimRegistryValueAttributes struct {
	Size       uint64  `msgpack:"size" json:"size"`
	ValueType  *string `msgpack:"value_type,omitempty" json:"value_type,omitempty"`
	HashMD5    *string `msgpack:"hash_md5,omitempty" json:"hash_md5,omitempty"`
	HashSHA1   *string `msgpack:"hash_sha1,omitempty" json:"hash_sha1,omitempty"`
	HashSHA256 *string `msgpack:"hash_sha256,omitempty" json:"hash_sha256,omitempty"`
}

// IntegrityClear asks the manager to drop every element of a component
type IntegrityClear struct {
	ID             uint64  `msgpack:"id" json:"id"`
	AttributesType *string `msgpack:"attributes_type,omitempty" json:"attributes_type,omitempty"`
}

// IntegrityCheck carries the checksum of a component for a global integrity check
type IntegrityCheck struct {
	ID             uint64  `msgpack:"id" json:"id"`
	Begin          *string `msgpack:"begin,omitempty" json:"begin,omitempty"`
	End            *string `msgpack:"end,omitempty" json:"end,omitempty"`
	Checksum       *string `msgpack:"checksum,omitempty" json:"checksum,omitempty"`
	AttributesType *string `msgpack:"attributes_type,omitempty" json:"attributes_type,omitempty"`
}

// deref returns the pointed-to string or "" for nil
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns a pointer to s. Used when building payloads.
func StringPtr(s string) *string {
	return &s
}
