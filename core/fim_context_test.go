package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agent() *AgentInfo {
	return &AgentInfo{
		AgentID:      StringPtr("001"),
		AgentName:    StringPtr("web-01"),
		AgentIP:      StringPtr("10.0.0.5"),
		AgentVersion: StringPtr("v4.8.0"),
	}
}

func deltaEvent(op, attrType *string) RawEvent {
	return NewDeltaEvent(&Delta{
		AgentInfo: agent(),
		Data: &DeltaData{
			Type:  op,
			Path:  StringPtr("/etc/passwd"),
			Index: StringPtr("/etc/passwd"),
			Attributes: &DeltaAttributes{
				Type:       attrType,
				Size:       1024,
				Inode:      42,
				HashMD5:    StringPtr("md5"),
				HashSHA1:   StringPtr("sha1"),
				HashSHA256: StringPtr("sha256"),
				UserName:   StringPtr("root"),
				GroupName:  StringPtr("root"),
				UID:        StringPtr("0"),
				GID:        StringPtr("0"),
				Mtime:      1700000000,
			},
		},
	})
}

func syncEvent(dataType SyncDataType, attrType string) RawEvent {
	msg := &SyncMsg{AgentInfo: agent(), DataType: dataType}
	switch dataType {
	case SyncDataIntegrityClear:
		msg.IntegrityClear = &IntegrityClear{ID: 1, AttributesType: StringPtr(attrType)}
	case SyncDataIntegrityCheckGlobal:
		msg.IntegrityCheckGlobal = &IntegrityCheck{ID: 1, AttributesType: StringPtr(attrType), Checksum: StringPtr("abc")}
	case SyncDataState:
		msg.State = &SyncState{AttributesType: AttributesType(attrType)}
	}
	return NewSyncEvent(msg)
}

func controlEvent(t *testing.T, doc string) RawEvent {
	t.Helper()
	msg, err := ParseControlMessage([]byte(doc))
	require.NoError(t, err)
	return NewControlEvent(msg)
}

func requireClassificationError(t *testing.T, err error) *ClassificationError {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClassification))
	var ce *ClassificationError
	require.True(t, errors.As(err, &ce))
	return ce
}

func TestNewFimContext_DeltaOperation(t *testing.T) {
	tests := []struct {
		name    string
		op      *string
		want    Operation
		wantErr bool
	}{
		{"added", StringPtr("added"), OperationUpsert, false},
		{"modified", StringPtr("modified"), OperationUpsert, false},
		{"deleted", StringPtr("deleted"), OperationDelete, false},
		{"unknown", StringPtr("renamed"), OperationInvalid, true},
		{"empty", StringPtr(""), OperationInvalid, true},
		{"missing", nil, OperationInvalid, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, err := NewFimContext(deltaEvent(tt.op, StringPtr("file")))
			if tt.wantErr {
				ce := requireClassificationError(t, err)
				assert.Equal(t, VariantDelta, ce.Variant)
				assert.Equal(t, "data.type", ce.Field)
				assert.Nil(t, ctx)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ctx.Operation())
		})
	}
}

func TestNewFimContext_DeltaAttributeType(t *testing.T) {
	tests := []struct {
		name      string
		attrType  *string
		component AffectedComponentType
		origin    OriginTable
		wantErr   bool
	}{
		{"file", StringPtr("file"), ComponentFile, OriginFile, false},
		{"registry key", StringPtr("registry_key"), ComponentRegistry, OriginRegistryKey, false},
		{"registry value", StringPtr("registry_value"), ComponentRegistry, OriginRegistryValue, false},
		{"unknown", StringPtr("socket"), ComponentInvalid, OriginInvalid, true},
		{"missing", nil, ComponentInvalid, OriginInvalid, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, err := NewFimContext(deltaEvent(StringPtr("added"), tt.attrType))
			if tt.wantErr {
				ce := requireClassificationError(t, err)
				assert.Equal(t, "data.attributes.type", ce.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.component, ctx.AffectedComponentType())
			assert.Equal(t, tt.origin, ctx.OriginTable())
		})
	}
}

func TestNewFimContext_DeltaWithoutData(t *testing.T) {
	_, err := NewFimContext(NewDeltaEvent(&Delta{AgentInfo: agent()}))
	requireClassificationError(t, err)
}

func TestNewFimContext_SyncState(t *testing.T) {
	tests := []struct {
		attrType  string
		component AffectedComponentType
		origin    OriginTable
	}{
		{"fim_file", ComponentFile, OriginFile},
		{"fim_registry_key", ComponentRegistry, OriginRegistryKey},
		{"fim_registry_value", ComponentRegistry, OriginRegistryValue},
	}

	for _, tt := range tests {
		t.Run(tt.attrType, func(t *testing.T) {
			ctx, err := NewFimContext(syncEvent(SyncDataState, tt.attrType))
			require.NoError(t, err)
			assert.Equal(t, OperationUpsert, ctx.Operation())
			assert.Equal(t, tt.component, ctx.AffectedComponentType())
			assert.Equal(t, tt.origin, ctx.OriginTable())
		})
	}

	_, err := NewFimContext(syncEvent(SyncDataState, "fim_socket"))
	ce := requireClassificationError(t, err)
	assert.Equal(t, VariantSyncMsg, ce.Variant)
}

func TestNewFimContext_SyncIntegrityClear(t *testing.T) {
	tests := []struct {
		attrType  string
		component AffectedComponentType
		origin    OriginTable
	}{
		{"fim_file", ComponentFile, OriginFile},
		{"fim_registry_key", ComponentRegistry, OriginRegistryKey},
		{"fim_registry_value", ComponentRegistry, OriginRegistryValue},
	}

	for _, tt := range tests {
		t.Run(tt.attrType, func(t *testing.T) {
			ctx, err := NewFimContext(syncEvent(SyncDataIntegrityClear, tt.attrType))
			require.NoError(t, err)
			assert.True(t, ctx.Classified())
			assert.Equal(t, OperationDeleteAllEntries, ctx.Operation())
			assert.Equal(t, tt.component, ctx.AffectedComponentType())
			assert.Equal(t, tt.origin, ctx.OriginTable())
		})
	}
}

func TestNewFimContext_SyncIntegrityCheckGlobal(t *testing.T) {
	ctx, err := NewFimContext(syncEvent(SyncDataIntegrityCheckGlobal, "fim_file"))
	require.NoError(t, err)
	assert.Equal(t, OperationIndexSync, ctx.Operation())
	assert.Equal(t, ComponentFile, ctx.AffectedComponentType())

	for _, attrType := range []string{"fim_registry_key", "fim_registry_value"} {
		ctx, err := NewFimContext(syncEvent(SyncDataIntegrityCheckGlobal, attrType))
		require.NoError(t, err, attrType)
		assert.Equal(t, OperationIndexSync, ctx.Operation())
		assert.Equal(t, ComponentRegistry, ctx.AffectedComponentType())
		assert.Equal(t, OriginInvalid, ctx.OriginTable())
	}
}

func TestNewFimContext_UntrackedComponentAsymmetry(t *testing.T) {
	ctx, err := NewFimContext(syncEvent(SyncDataIntegrityClear, "syscollector_packages"))
	require.NoError(t, err)
	require.NotNil(t, ctx)
	assert.False(t, ctx.Classified())
	assert.Equal(t, OperationInvalid, ctx.Operation())
	assert.Equal(t, ComponentInvalid, ctx.AffectedComponentType())
	assert.Equal(t, OriginInvalid, ctx.OriginTable())

	_, err = NewFimContext(syncEvent(SyncDataIntegrityCheckGlobal, "syscollector_packages"))
	ce := requireClassificationError(t, err)
	assert.Equal(t, "syscollector_packages", ce.Value)
}

func TestNewFimContext_SyncUnknownDataType(t *testing.T) {
	_, err := NewFimContext(syncEvent(SyncDataNone, ""))
	ce := requireClassificationError(t, err)
	assert.Equal(t, "data_type", ce.Field)
}

func TestNewFimContext_ControlActions(t *testing.T) {
	tests := []struct {
		action    string
		op        Operation
		component AffectedComponentType
		origin    OriginTable
	}{
		{"deleteAgent", OperationDeleteAgent, ComponentInvalid, OriginInvalid},
		{"deleteFile", OperationDelete, ComponentFile, OriginFile},
		{"deleteRegistryKey", OperationDelete, ComponentRegistry, OriginRegistryKey},
		{"deleteRegistryValue", OperationDelete, ComponentRegistry, OriginRegistryValue},
		{"upgradeAgentDB", OperationUpgradeAgentDB, ComponentInvalid, OriginInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			ctx, err := NewFimContext(controlEvent(t, `{"action":"`+tt.action+`","agent_info":{"agent_id":"007"}}`))
			require.NoError(t, err)
			assert.Equal(t, tt.op, ctx.Operation())
			assert.Equal(t, tt.component, ctx.AffectedComponentType())
			assert.Equal(t, tt.origin, ctx.OriginTable())
			assert.Equal(t, "007", ctx.AgentID())
		})
	}

	_, err := NewFimContext(controlEvent(t, `{"action":"reboot"}`))
	ce := requireClassificationError(t, err)
	assert.Equal(t, VariantJSON, ce.Variant)
	assert.Equal(t, "reboot", ce.Value)

	_, err = NewFimContext(controlEvent(t, `{"agent_info":{"agent_id":"007"}}`))
	requireClassificationError(t, err)

	_, err = NewFimContext(controlEvent(t, `{"action":7}`))
	requireClassificationError(t, err)
}

func TestNewFimContext_InvalidEvent(t *testing.T) {
	_, err := NewFimContext(RawEvent{})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = NewFimContext(NewDeltaEvent(nil))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestFimContext_DeltaAccessors(t *testing.T) {
	ctx, err := NewFimContext(deltaEvent(StringPtr("modified"), StringPtr("file")))
	require.NoError(t, err)

	assert.Equal(t, "001", ctx.AgentID())
	assert.Equal(t, "web-01", ctx.AgentName())
	assert.Equal(t, "10.0.0.5", ctx.AgentIP())
	assert.Equal(t, "v4.8.0", ctx.AgentVersion())
	assert.Equal(t, "/etc/passwd", ctx.PathRaw())
	assert.Equal(t, "/etc/passwd", ctx.Path())
	assert.Equal(t, uint64(1024), ctx.Size())
	assert.Equal(t, uint64(42), ctx.Inode())
	assert.Equal(t, "md5", ctx.MD5())
	assert.Equal(t, "sha1", ctx.SHA1())
	assert.Equal(t, "sha256", ctx.SHA256())
	assert.Equal(t, "root", ctx.UserName())
	assert.Equal(t, "root", ctx.GroupName())
	assert.Equal(t, "0", ctx.UID())
	assert.Equal(t, "0", ctx.GID())
	assert.Equal(t, "2023-11-14T22:13:20.000Z", ctx.MtimeISO8601())
	assert.Equal(t, "file", ctx.ElementType())
	assert.Empty(t, ctx.ValueName())
	assert.Empty(t, ctx.Hive())
}

func TestFimContext_AbsentFieldsAreEmpty(t *testing.T) {
	ctx, err := NewFimContext(NewDeltaEvent(&Delta{
		Data: &DeltaData{
			Type:       StringPtr("added"),
			Attributes: &DeltaAttributes{Type: StringPtr("registry_key")},
		},
	}))
	require.NoError(t, err)

	assert.Empty(t, ctx.AgentID())
	assert.Empty(t, ctx.AgentName())
	assert.Empty(t, ctx.PathRaw())
	assert.Empty(t, ctx.MD5())
	assert.Empty(t, ctx.ValueType())
	assert.Zero(t, ctx.Size())
	assert.Zero(t, ctx.Mtime())
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ctx.HashPath())
}

func TestFimContext_SyncStateAccessors(t *testing.T) {
	file := NewSyncEvent(&SyncMsg{
		AgentInfo: agent(),
		DataType:  SyncDataState,
		State: &SyncState{
			Index:          StringPtr("/usr/bin/ls"),
			Path:           StringPtr("ignored-for-files"),
			AttributesType: AttributesFimFile,
			FimFile: &FimFileAttributes{
				Size:     2048,
				Inode:    7,
				HashMD5:  StringPtr("m"),
				UserName: StringPtr("bin"),
				Mtime:    1700000000,
			},
		},
	})
	ctx, err := NewFimContext(file)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/ls", ctx.PathRaw())
	assert.Equal(t, uint64(2048), ctx.Size())
	assert.Equal(t, uint64(7), ctx.Inode())
	assert.Equal(t, "m", ctx.MD5())
	assert.Equal(t, "bin", ctx.UserName())
	assert.Empty(t, ctx.ValueType())

	value := NewSyncEvent(&SyncMsg{
		AgentInfo: agent(),
		DataType:  SyncDataState,
		State: &SyncState{
			Path:           StringPtr("HKEY_USERS\\S-1-5-18\\Env"),
			ValueName:      StringPtr("TEMP"),
			Arch:           StringPtr("[x64]"),
			AttributesType: AttributesFimRegistryValue,
			FimRegistryValue: &FimRegistryValueAttributes{
				Size:      12,
				ValueType: StringPtr("REG_SZ"),
				HashSHA1:  StringPtr("s1"),
			},
		},
	})
	ctx, err = NewFimContext(value)
	require.NoError(t, err)
	assert.Equal(t, "HKEY_USERS\\S-1-5-18\\Env", ctx.PathRaw())
	assert.Equal(t, "HKU\\S-1-5-18\\Env\\TEMP", ctx.Path())
	assert.Equal(t, "HKU", ctx.Hive())
	assert.Equal(t, "S-1-5-18\\Env", ctx.Key())
	assert.Equal(t, "REG_SZ", ctx.ValueType())
	assert.Equal(t, "s1", ctx.SHA1())
	assert.Equal(t, "[x64]", ctx.Arch())
	assert.Equal(t, uint64(12), ctx.Size())
	assert.Empty(t, ctx.UserName())
	assert.Zero(t, ctx.Inode())
}

func TestFimContext_SyncStateWithoutAttributes(t *testing.T) {
	tests := []struct {
		name     string
		attrType AttributesType
	}{
		{"file", AttributesFimFile},
		{"registry key", AttributesFimRegistryKey},
		{"registry value", AttributesFimRegistryValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, err := NewFimContext(NewSyncEvent(&SyncMsg{
				AgentInfo: agent(),
				DataType:  SyncDataState,
				State: &SyncState{
					Index:          StringPtr("/etc/hosts"),
					Path:           StringPtr("HKEY_USERS\\S-1-5-18"),
					AttributesType: tt.attrType,
				},
			}))
			require.NoError(t, err)
			assert.Empty(t, ctx.PathRaw())
			assert.Zero(t, ctx.Size())
		})
	}
}

func TestFimContext_ControlAccessors(t *testing.T) {
	ctx, err := NewFimContext(controlEvent(t, `{
		"action": "deleteRegistryKey",
		"agent_info": {"agent_id": "002"},
		"data": {"full_path": "HKEY_LOCAL_MACHINE\\Software", "path": "HKEY_LOCAL_MACHINE\\Software"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "002", ctx.AgentID())
	assert.Equal(t, "HKEY_LOCAL_MACHINE\\Software", ctx.Index())
	assert.Equal(t, "HKLM\\Software", ctx.Path())
	assert.Empty(t, ctx.AgentName())
	assert.Empty(t, ctx.ValueName())
}

func TestFimContext_RegistryValuePath(t *testing.T) {
	ctx, err := NewFimContext(NewDeltaEvent(&Delta{
		AgentInfo: agent(),
		Data: &DeltaData{
			Type:       StringPtr("added"),
			Path:       StringPtr("HKEY_LOCAL_MACHINE\\Software\\X"),
			ValueName:  StringPtr("Enabled"),
			Attributes: &DeltaAttributes{Type: StringPtr("registry_value")},
		},
	}))
	require.NoError(t, err)

	assert.Equal(t, "HKLM\\Software\\X\\Enabled", ctx.Path())
	assert.Equal(t, "HKLM", ctx.Hive())
	assert.Equal(t, "Software\\X", ctx.Key())
	assert.Equal(t, "0d8b78cbee70cff31dc7aa5b639b8b89c43c00c5e7c20121fc4854f12b949c60", ctx.HashPath())
}

func TestFimContext_RegistryKeyPathHasNoValueName(t *testing.T) {
	ctx, err := NewFimContext(NewDeltaEvent(&Delta{
		Data: &DeltaData{
			Type:       StringPtr("added"),
			Path:       StringPtr("HKEY_LOCAL_MACHINE\\Software\\X"),
			ValueName:  StringPtr("Enabled"),
			Attributes: &DeltaAttributes{Type: StringPtr("registry_key")},
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, "HKLM\\Software\\X", ctx.Path())
}

func TestFimContext_HashPathIsStable(t *testing.T) {
	ctx, err := NewFimContext(deltaEvent(StringPtr("added"), StringPtr("file")))
	require.NoError(t, err)

	want := "74acf31844532670be412c65b8251ee55d072549080b1cffdbea6b1a192230a0"
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, ctx.HashPath())
		}()
	}
	wg.Wait()
	assert.Equal(t, want, ctx.HashPath())
	assert.Equal(t, "001_"+want, ctx.ElementID())
}

func TestFimContext_SerializedElement(t *testing.T) {
	ctx, err := NewFimContext(deltaEvent(StringPtr("added"), StringPtr("file")))
	require.NoError(t, err)

	assert.Empty(t, ctx.SerializedElement())
	ctx.SetSerializedElement(`{"id":"x"}`)
	assert.Equal(t, `{"id":"x"}`, ctx.SerializedElement())
}
