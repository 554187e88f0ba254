package storage

import (
	"testing"

	"harvester/core"

	"github.com/stretchr/testify/assert"
)

func TestIndexName(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		component core.AffectedComponentType
		cluster   string
		want      string
	}{
		{"files", "wazuh-states-", core.ComponentFile, "Wazuh", "wazuh-states-fim-files-wazuh"},
		{"registries", "wazuh-states-", core.ComponentRegistry, "wazuh", "wazuh-states-fim-registries-wazuh"},
		{"blank cluster", "wazuh-states-", core.ComponentFile, " ", "wazuh-states-fim-files-undefined"},
		{"padded cluster", "", core.ComponentRegistry, "  Prod ", "fim-registries-prod"},
		{"invalid component", "wazuh-states-", core.ComponentInvalid, "wazuh", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IndexName(tt.prefix, tt.component, tt.cluster))
		})
	}
}
