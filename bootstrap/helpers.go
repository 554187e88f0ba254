package bootstrap

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"syscall"
)

// GenerateSecret returns a random URL-safe secret of at least 32 characters,
// suitable for listener.auth.jwt_secret
func GenerateSecret(length int) (string, error) {
	if length < 32 {
		length = 32
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	secret := base64.RawURLEncoding.EncodeToString(buf)
	return secret[:length], nil
}

// ClassifyConnectionError turns an indexer connection failure into an operator hint
func ClassifyConnectionError(service, addr string, err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to %s at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - %s is starting up (wait and retry)\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity: nc -zv %s", service, addr, service, addr)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			(opErr.Err != nil && (containsIgnoreCase(opErr.Err.Error(), "connection refused") ||
				containsIgnoreCase(opErr.Err.Error(), "actively refused"))) {
			return fmt.Sprintf("Connection refused by %s at %s.\n"+
				"  This usually means %s is not running.\n"+
				"  Remediation:\n"+
				"  - Start the service and check its logs\n"+
				"  - Verify the address in the indexer section of config.yaml", service, addr, service)
		}
	}

	if containsIgnoreCase(errStr, "connection refused") {
		return fmt.Sprintf("Connection refused by %s at %s.\n"+
			"  Remediation:\n"+
			"  - Start the service and check its logs\n"+
			"  - Verify the address in the indexer section of config.yaml", service, addr)
	}

	if containsIgnoreCase(errStr, "no such host") || containsIgnoreCase(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in %s address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration", service, addr)
	}

	if containsIgnoreCase(errStr, "authentication") || containsIgnoreCase(errStr, "password") ||
		containsIgnoreCase(errStr, "denied") || containsIgnoreCase(errStr, "authorization") {
		return fmt.Sprintf("Authentication failed for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Verify indexer.username and indexer.password\n"+
			"  - Check HARVESTER_INDEXER_USERNAME and HARVESTER_INDEXER_PASSWORD env vars\n"+
			"  - When secrets.provider is set, check the secret store", service, addr)
	}

	if containsIgnoreCase(errStr, "certificate") || containsIgnoreCase(errStr, "tls") || containsIgnoreCase(errStr, "x509") {
		return fmt.Sprintf("TLS handshake with %s at %s failed.\n"+
			"  Remediation:\n"+
			"  - Check indexer.ssl.certificate_authorities\n"+
			"  - Check the client certificate and key paths", service, addr)
	}

	return fmt.Sprintf("Failed to connect to %s at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure %s is running and accessible\n"+
		"  - Check the indexer section of config.yaml", service, addr, err, service)
}

// ClassifyDLQError turns a dead letter queue open failure into an operator hint
func ClassifyDLQError(err error, dbPath string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()
	absPath, _ := filepath.Abs(dbPath)
	parentDir := filepath.Dir(absPath)

	if containsIgnoreCase(errStr, "permission denied") || containsIgnoreCase(errStr, "access denied") {
		return fmt.Sprintf("Permission denied accessing the dead letter queue at %s.\n"+
			"  Remediation:\n"+
			"  - Check file permissions: ls -la %s\n"+
			"  - Check directory permissions: ls -la %s",
			absPath, absPath, parentDir)
	}

	if containsIgnoreCase(errStr, "database is locked") || containsIgnoreCase(errStr, "SQLITE_BUSY") {
		return fmt.Sprintf("Dead letter queue at %s is locked by another process.\n"+
			"  Remediation:\n"+
			"  - Check for another harvester instance: ps aux | grep harvester\n"+
			"  - Stop any running 'harvester dlq' command", absPath)
	}

	if containsIgnoreCase(errStr, "disk full") || containsIgnoreCase(errStr, "no space") || containsIgnoreCase(errStr, "SQLITE_FULL") {
		return fmt.Sprintf("Disk full, cannot write the dead letter queue at %s.\n"+
			"  Remediation:\n"+
			"  - Check available disk space: df -h %s\n"+
			"  - Replay or discard pending events: harvester dlq replay", absPath, parentDir)
	}

	if containsIgnoreCase(errStr, "corrupt") || containsIgnoreCase(errStr, "malformed") {
		return fmt.Sprintf("Dead letter queue at %s appears to be corrupted.\n"+
			"  Remediation:\n"+
			"  - Check integrity: sqlite3 %s \"PRAGMA integrity_check;\"\n"+
			"  - Move the file aside and restart to start with an empty queue",
			absPath, absPath)
	}

	if containsIgnoreCase(errStr, "read-only") {
		return fmt.Sprintf("Dead letter queue location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Point dlq.path or HARVESTER_DLQ_PATH at a writable location", absPath)
	}

	return fmt.Sprintf("Failed to open the dead letter queue at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure the directory %s is writable\n"+
		"  - Set dlq.enabled=false to run without a dead letter queue", absPath, err, parentDir)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
