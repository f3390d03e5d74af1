package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainDocument  = "keel/document/v1"
	DomainSnapshot  = "keel/snapshot/v1"
	DomainOperation = "keel/operation/v1"
)

// HashBytes computes a SHA-256 digest with domain separation.
// Format: SHA256(domain + 0x00 + data). The null separator prevents
// domain/data boundary ambiguity.
func HashBytes(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashValue canonically marshals v and hashes it under the domain.
// Returns an error if v cannot be canonically marshaled.
func HashValue(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash value: %w", err)
	}
	return HashBytes(domain, data), nil
}

// OperationID computes a content-addressed identifier for an operation
// within a batch. The ID is stable across resubmission given the same
// batch, description, and position.
func OperationID(batchID, description string, index int) (string, error) {
	return HashValue(DomainOperation, map[string]any{
		"batch_id":    batchID,
		"description": description,
		"index":       index,
	})
}
