package core

import "strings"

type hiveName struct {
	full  string
	short string
}

// hiveNames is scanned in order by both sanitizePath and hiveOf
var hiveNames = []hiveName{
	{"HKEY_CLASSES_ROOT", "HKCR"},
	{"HKEY_CURRENT_CONFIG", "HKCC"},
	{"HKEY_CURRENT_USER", "HKCU"},
	{"HKEY_LOCAL_MACHINE", "HKLM"},
	{"HKEY_USERS", "HKU"},
}

// hiveKeyPrefixes is scanned in order by registryKey
var hiveKeyPrefixes = []string{
	"HKEY_CLASSES_ROOT\\",
	"HKEY_CURRENT_USER\\",
	"HKEY_LOCAL_MACHINE\\",
	"HKEY_USERS\\",
	"HKEY_CURRENT_CONFIG\\",
}

// sanitizePath replaces the first occurrence of the first hive name found in raw
func sanitizePath(raw string) string {
	for _, h := range hiveNames {
		if strings.Contains(raw, h.full) {
			return strings.Replace(raw, h.full, h.short, 1)
		}
	}
	return raw
}

// hiveOf returns the abbreviation of the hive raw starts with, or ""
func hiveOf(raw string) string {
	for _, h := range hiveNames {
		if strings.HasPrefix(raw, h.full) {
			return h.short
		}
	}
	return ""
}

// registryKey strips the leading hive and separator from raw
func registryKey(raw string) string {
	for _, prefix := range hiveKeyPrefixes {
		if strings.HasPrefix(raw, prefix) {
			return raw[len(prefix):]
		}
	}
	return raw
}
