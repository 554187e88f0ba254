package fim

import (
	"encoding/json"

	"harvester/core"
	"harvester/storage"
)

// ClusterInfo is stamped on every upserted document
type ClusterInfo struct {
	Name string
	Node string
}

type elementMessage struct {
	ID        string       `json:"id"`
	Operation string       `json:"operation"`
	Data      *elementData `json:"data,omitempty"`
}

// deleteByQueryMessage keeps operation before id on the wire
type deleteByQueryMessage struct {
	Operation string `json:"operation"`
	ID        string `json:"id"`
}

type elementData struct {
	Agent    agentDoc     `json:"agent"`
	File     *fileDoc     `json:"file,omitempty"`
	Registry *registryDoc `json:"registry,omitempty"`
	Cluster  *clusterDoc  `json:"cluster,omitempty"`
}

type agentDoc struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Host    *hostDoc `json:"host,omitempty"`
	Version string   `json:"version,omitempty"`
}

type hostDoc struct {
	IP string `json:"ip"`
}

type hashDoc struct {
	MD5    string `json:"md5,omitempty"`
	SHA1   string `json:"sha1,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
}

type fileDoc struct {
	Path  string   `json:"path"`
	Hash  *hashDoc `json:"hash,omitempty"`
	Size  uint64   `json:"size"`
	Inode uint64   `json:"inode,omitempty"`
	UID   string   `json:"uid,omitempty"`
	GID   string   `json:"gid,omitempty"`
	Owner string   `json:"owner,omitempty"`
	Group string   `json:"group,omitempty"`
	Mtime string   `json:"mtime,omitempty"`
}

type registryValueDoc struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type registryDoc struct {
	Hive         string            `json:"hive,omitempty"`
	Key          string            `json:"key"`
	Path         string            `json:"path"`
	Value        *registryValueDoc `json:"value,omitempty"`
	Hash         *hashDoc          `json:"hash,omitempty"`
	Size         uint64            `json:"size,omitempty"`
	UID          string            `json:"uid,omitempty"`
	GID          string            `json:"gid,omitempty"`
	Owner        string            `json:"owner,omitempty"`
	Group        string            `json:"group,omitempty"`
	Mtime        string            `json:"mtime,omitempty"`
	Architecture string            `json:"architecture,omitempty"`
}

type clusterDoc struct {
	Name string `json:"name"`
	Node string `json:"node,omitempty"`
}

func hashes(data *core.FimContext) *hashDoc {
	h := hashDoc{MD5: data.MD5(), SHA1: data.SHA1(), SHA256: data.SHA256()}
	if h == (hashDoc{}) {
		return nil
	}
	return &h
}

func mtime(data *core.FimContext) string {
	if data.Mtime() == 0 {
		return ""
	}
	return data.MtimeISO8601()
}

func newElementData(data *core.FimContext, cluster ClusterInfo) *elementData {
	doc := &elementData{
		Agent: agentDoc{
			ID:      data.AgentID(),
			Name:    data.AgentName(),
			Version: data.AgentVersion(),
		},
	}
	if ip := data.AgentIP(); ip != "" {
		doc.Agent.Host = &hostDoc{IP: ip}
	}
	if cluster.Name != "" {
		doc.Cluster = &clusterDoc{Name: cluster.Name, Node: cluster.Node}
	}

	switch data.OriginTable() {
	case core.OriginFile:
		doc.File = &fileDoc{
			Path:  data.Path(),
			Hash:  hashes(data),
			Size:  data.Size(),
			Inode: data.Inode(),
			UID:   data.UID(),
			GID:   data.GID(),
			Owner: data.UserName(),
			Group: data.GroupName(),
			Mtime: mtime(data),
		}
	case core.OriginRegistryKey, core.OriginRegistryValue:
		reg := &registryDoc{
			Hive:         data.Hive(),
			Key:          data.Key(),
			Path:         data.Path(),
			UID:          data.UID(),
			GID:          data.GID(),
			Owner:        data.UserName(),
			Group:        data.GroupName(),
			Mtime:        mtime(data),
			Architecture: data.Arch(),
		}
		if data.OriginTable() == core.OriginRegistryValue {
			reg.Value = &registryValueDoc{Name: data.ValueName(), Type: data.ValueType()}
			reg.Hash = hashes(data)
			reg.Size = data.Size()
		}
		doc.Registry = reg
	}
	return doc
}

// upsertDocument serializes the INSERTED message for data
func upsertDocument(data *core.FimContext, cluster ClusterInfo) (string, error) {
	b, err := json.Marshal(elementMessage{
		ID:        data.ElementID(),
		Operation: storage.OperationInserted,
		Data:      newElementData(data, cluster),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// deleteDocument serializes the DELETED message for data
func deleteDocument(data *core.FimContext) (string, error) {
	b, err := json.Marshal(elementMessage{
		ID:        data.ElementID(),
		Operation: storage.OperationDeleted,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// deleteByQueryDocument serializes the agent-scoped DELETED_BY_QUERY directive
func deleteByQueryDocument(agentID string) (string, error) {
	b, err := json.Marshal(deleteByQueryMessage{
		Operation: storage.OperationDeletedByQuery,
		ID:        agentID,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
