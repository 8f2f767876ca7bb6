package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content digests.
// The version suffix tracks the snapshot schema the digest belongs to.
const (
	DomainSnapshotV1 = "tasksync/snapshot/v1"
	DomainSnapshotV2 = "tasksync/snapshot/v2"
	DomainStore      = "tasksync/store/v1"
)

// DigestAlgorithm names the hash used by Digest in persisted metadata.
const DigestAlgorithm = "sha256"

// Digest computes a domain-separated SHA-256 digest as lowercase hex.
// Format: SHA256(domain + 0x00 + data)
// The 0x00 separator prevents domain/data boundary ambiguity.
func Digest(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
