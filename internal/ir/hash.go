package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainAction   = "dispatchr/action/v1"
	DomainSnapshot = "dispatchr/snapshot/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ActionID computes the content-addressed ID of a dispatched action.
// The ID is stable across replays given the same session, name, payload
// and sequence number.
func ActionID(sessionID, name string, payload any, seq int64) (string, error) {
	obj := map[string]any{
		"session_id": sessionID,
		"name":       name,
		"payload":    payload,
		"seq":        seq,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ActionID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainAction, canonical), nil
}

// SnapshotDigest computes a digest over a snapshot's canonical form.
// Two sessions holding equal context and equal serialized store state
// produce the same digest regardless of key order or encoding details.
func SnapshotDigest(s *Snapshot) (string, error) {
	if s == nil {
		return "", fmt.Errorf("SnapshotDigest: nil snapshot")
	}
	stores := make(map[string]any, len(s.Stores))
	for name, raw := range s.Stores {
		v, err := DecodeJSON(raw)
		if err != nil {
			return "", fmt.Errorf("SnapshotDigest: store %q: %w", name, err)
		}
		stores[name] = v
	}
	ctx := map[string]any(s.Context)
	if ctx == nil {
		ctx = map[string]any{}
	}

	canonical, err := MarshalCanonical(map[string]any{
		"context": ctx,
		"stores":  stores,
	})
	if err != nil {
		return "", fmt.Errorf("SnapshotDigest: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainSnapshot, canonical), nil
}

// MustActionID is like ActionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustActionID(sessionID, name string, payload any, seq int64) string {
	id, err := ActionID(sessionID, name, payload, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustSnapshotDigest is like SnapshotDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSnapshotDigest(s *Snapshot) string {
	d, err := SnapshotDigest(s)
	if err != nil {
		panic(err)
	}
	return d
}
