package fim

import (
	"testing"

	"harvester/core"
	"harvester/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	passwdHash = "74acf31844532670be412c65b8251ee55d072549080b1cffdbea6b1a192230a0"
	hklmHash   = "0d8b78cbee70cff31dc7aa5b639b8b89c43c00c5e7c20121fc4854f12b949c60"
)

func testAgent() *core.AgentInfo {
	return &core.AgentInfo{
		AgentID:      core.StringPtr("001"),
		AgentName:    core.StringPtr("web-01"),
		AgentIP:      core.StringPtr("10.0.0.5"),
		AgentVersion: core.StringPtr("v4.8.0"),
	}
}

func fileDelta(op string) core.RawEvent {
	return core.NewDeltaEvent(&core.Delta{
		AgentInfo: testAgent(),
		Data: &core.DeltaData{
			Type:  core.StringPtr(op),
			Path:  core.StringPtr("/etc/passwd"),
			Index: core.StringPtr("/etc/passwd"),
			Attributes: &core.DeltaAttributes{
				Type:       core.StringPtr(core.AttributeFile),
				Size:       1024,
				Inode:      42,
				HashMD5:    core.StringPtr("md5"),
				HashSHA1:   core.StringPtr("sha1"),
				HashSHA256: core.StringPtr("sha256"),
				UserName:   core.StringPtr("root"),
				GroupName:  core.StringPtr("root"),
				UID:        core.StringPtr("0"),
				GID:        core.StringPtr("0"),
				Mtime:      1700000000,
			},
		},
	})
}

func registryValueDelta(op string) core.RawEvent {
	return core.NewDeltaEvent(&core.Delta{
		AgentInfo: testAgent(),
		Data: &core.DeltaData{
			Type:      core.StringPtr(op),
			Path:      core.StringPtr(`HKEY_LOCAL_MACHINE\Software\X`),
			ValueName: core.StringPtr("Enabled"),
			Arch:      core.StringPtr("[x64]"),
			Attributes: &core.DeltaAttributes{
				Type:       core.StringPtr(core.AttributeRegistryValue),
				Size:       4,
				ValueType:  core.StringPtr("REG_DWORD"),
				HashSHA256: core.StringPtr("abc"),
			},
		},
	})
}

func syncEvent(dataType core.SyncDataType, attrType string) core.RawEvent {
	msg := &core.SyncMsg{AgentInfo: testAgent(), DataType: dataType}
	switch dataType {
	case core.SyncDataIntegrityClear:
		msg.IntegrityClear = &core.IntegrityClear{ID: 1, AttributesType: core.StringPtr(attrType)}
	case core.SyncDataIntegrityCheckGlobal:
		msg.IntegrityCheckGlobal = &core.IntegrityCheck{ID: 1, AttributesType: core.StringPtr(attrType)}
	}
	return core.NewSyncEvent(msg)
}

func controlEvent(t *testing.T, doc string) core.RawEvent {
	t.Helper()
	msg, err := core.ParseControlMessage([]byte(doc))
	require.NoError(t, err)
	return core.NewControlEvent(msg)
}

func newContext(t *testing.T, raw core.RawEvent) *core.FimContext {
	t.Helper()
	data, err := core.NewFimContext(raw)
	require.NoError(t, err)
	return data
}

func newTestRegistry(t *testing.T) (*storage.Registry, *storage.MemoryConnector, *storage.MemoryConnector) {
	t.Helper()
	files := storage.NewMemoryConnector("wazuh-states-fim-files-undefined")
	registries := storage.NewMemoryConnector("wazuh-states-fim-registries-undefined")
	registry, err := storage.NewRegistryBuilder().
		Register(core.ComponentFile, files).
		Register(core.ComponentRegistry, registries).
		Build()
	require.NoError(t, err)
	return registry, files, registries
}

func nopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
