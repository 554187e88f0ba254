package storage

import (
	"strings"

	"harvester/core"
)

const undefinedCluster = "undefined"

// IndexName builds the index a component is stored in:
// <prefix>fim-<files|registries>-<cluster>
func IndexName(prefix string, component core.AffectedComponentType, cluster string) string {
	var kind string
	switch component {
	case core.ComponentFile:
		kind = "files"
	case core.ComponentRegistry:
		kind = "registries"
	default:
		return ""
	}

	cluster = strings.ToLower(strings.TrimSpace(cluster))
	if cluster == "" {
		cluster = undefinedCluster
	}
	return prefix + "fim-" + kind + "-" + cluster
}
