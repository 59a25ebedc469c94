package idempotency

import (
	"fmt"
	"strings"
)

const keySeparator = ":"

// GenerateKey builds "namespace:version:eventID". The schema version is part
// of the key so records written in an older shape are never read back.
func GenerateKey(namespace, version, eventID string) string {
	return namespace + keySeparator + version + keySeparator + eventID
}

// ParseKey inverts GenerateKey. Namespace and version never contain the
// separator; the event ID may.
func ParseKey(key string) (namespace, version, eventID string, err error) {
	parts := strings.SplitN(key, keySeparator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed idempotency key")
	}
	return parts[0], parts[1], parts[2], nil
}

// KeySpace fixes the namespace and schema version for one guard.
type KeySpace struct {
	Namespace string
	Version   string
}

func (k KeySpace) Key(eventID string) string {
	return GenerateKey(k.Namespace, k.Version, eventID)
}

// Prefix matches every key in this namespace and version.
func (k KeySpace) Prefix() string {
	return k.Namespace + keySeparator + k.Version + keySeparator
}
