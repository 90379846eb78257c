package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainBlueprint = "automata/blueprint/v1"
	DomainState     = "automata/state/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash computes the content hash of a blueprint. Two contents that
// differ only in key order or whitespace hash identically.
func ContentHash(content BlueprintContent) (string, error) {
	canonical, err := MarshalCanonical(content)
	if err != nil {
		return "", fmt.Errorf("ContentHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainBlueprint, canonical), nil
}

// BlueprintID derives the blueprint identity from its app, name, and
// content hash.
func BlueprintID(appID, name, contentHash string) string {
	return fmt.Sprintf("%s/%s@%s", appID, name, contentHash)
}

// StateHash fingerprints a state. Used to compare projections without
// caring about key order.
func StateHash(s State) (string, error) {
	canonical, err := MarshalCanonical(s)
	if err != nil {
		return "", fmt.Errorf("StateHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// MustContentHash is like ContentHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustContentHash(content BlueprintContent) string {
	h, err := ContentHash(content)
	if err != nil {
		panic(err)
	}
	return h
}
