package fim

import (
	"testing"

	"harvester/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertDocument_File(t *testing.T) {
	data := newContext(t, fileDelta(core.DeltaModified))

	doc, err := upsertDocument(data, ClusterInfo{Name: "wazuh", Node: "master"})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "001_`+passwdHash+`",
		"operation": "INSERTED",
		"data": {
			"agent": {"id": "001", "name": "web-01", "host": {"ip": "10.0.0.5"}, "version": "v4.8.0"},
			"file": {
				"path": "/etc/passwd",
				"hash": {"md5": "md5", "sha1": "sha1", "sha256": "sha256"},
				"size": 1024,
				"inode": 42,
				"uid": "0",
				"gid": "0",
				"owner": "root",
				"group": "root",
				"mtime": "2023-11-14T22:13:20.000Z"
			},
			"cluster": {"name": "wazuh", "node": "master"}
		}
	}`, doc)
}

func TestUpsertDocument_RegistryValue(t *testing.T) {
	data := newContext(t, registryValueDelta(core.DeltaAdded))

	doc, err := upsertDocument(data, ClusterInfo{})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "001_`+hklmHash+`",
		"operation": "INSERTED",
		"data": {
			"agent": {"id": "001", "name": "web-01", "host": {"ip": "10.0.0.5"}, "version": "v4.8.0"},
			"registry": {
				"hive": "HKLM",
				"key": "Software\\X",
				"path": "HKLM\\Software\\X\\Enabled",
				"value": {"name": "Enabled", "type": "REG_DWORD"},
				"hash": {"sha256": "abc"},
				"size": 4,
				"architecture": "[x64]"
			}
		}
	}`, doc)
}

func TestDeleteDocument(t *testing.T) {
	data := newContext(t, fileDelta(core.DeltaDeleted))

	doc, err := deleteDocument(data)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"001_`+passwdHash+`","operation":"DELETED"}`, doc)
}

func TestDeleteByQueryDocument(t *testing.T) {
	doc, err := deleteByQueryDocument("A1")
	require.NoError(t, err)
	assert.Equal(t, `{"operation":"DELETED_BY_QUERY","id":"A1"}`, doc)
}
