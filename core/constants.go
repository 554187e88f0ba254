package core

// Operation is the canonical action requested by an event
type Operation string

const (
	// OperationDelete removes a single element from its index
	OperationDelete Operation = "delete"
	// OperationUpsert inserts or replaces a single element
	OperationUpsert Operation = "upsert"
	// OperationDeleteAgent removes every element of an agent from every index
	OperationDeleteAgent Operation = "delete_agent"
	// OperationDeleteAllEntries removes every element of an agent from one index
	OperationDeleteAllEntries Operation = "delete_all_entries"
	// OperationIndexSync requests a resynchronization of an index for an agent
	OperationIndexSync Operation = "index_sync"
	// OperationUpgradeAgentDB signals that the agent database was rebuilt
	OperationUpgradeAgentDB Operation = "upgrade_agent_db"
	// OperationInvalid is the unclassified state
	OperationInvalid Operation = "invalid"
)

// String returns the string representation
func (o Operation) String() string {
	return string(o)
}

// AffectedComponentType is the coarse class of the monitored entity
type AffectedComponentType string

const (
	ComponentFile     AffectedComponentType = "file"
	ComponentRegistry AffectedComponentType = "registry"
	ComponentInvalid  AffectedComponentType = "invalid"
)

// String returns the string representation
func (c AffectedComponentType) String() string {
	return string(c)
}

// IsValid reports whether the component type can select an index
func (c AffectedComponentType) IsValid() bool {
	switch c {
	case ComponentFile, ComponentRegistry:
		return true
	default:
		return false
	}
}

// OriginTable is the fine-grained entity kind of an event
type OriginTable string

const (
	OriginFile          OriginTable = "file"
	OriginRegistryKey   OriginTable = "registry_key"
	OriginRegistryValue OriginTable = "registry_value"
	OriginInvalid       OriginTable = "invalid"
)

// String returns the string representation
func (t OriginTable) String() string {
	return string(t)
}

// VariantType identifies the populated arm of a RawEvent
type VariantType string

const (
	VariantDelta   VariantType = "delta"
	VariantSyncMsg VariantType = "sync_msg"
	VariantJSON    VariantType = "json"
	VariantInvalid VariantType = "invalid"
)

// String returns the string representation
func (v VariantType) String() string {
	return string(v)
}

// Delta operation values carried in data.type
const (
	DeltaAdded    = "added"
	DeltaModified = "modified"
	DeltaDeleted  = "deleted"
)

// Attribute type values carried in delta data.attributes.type
const (
	AttributeFile          = "file"
	AttributeRegistryKey   = "registry_key"
	AttributeRegistryValue = "registry_value"
)

// Component names carried by integrity sync messages
const (
	SyncComponentFile          = "fim_file"
	SyncComponentRegistryKey   = "fim_registry_key"
	SyncComponentRegistryValue = "fim_registry_value"
)

// Actions accepted in JSON control messages
const (
	ActionDeleteAgent         = "deleteAgent"
	ActionDeleteFile          = "deleteFile"
	ActionDeleteRegistryKey   = "deleteRegistryKey"
	ActionDeleteRegistryValue = "deleteRegistryValue"
	ActionUpgradeAgentDB      = "upgradeAgentDB"
)
