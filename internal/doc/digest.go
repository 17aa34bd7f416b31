package doc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digest computation. Hashing the domain alongside the
// payload keeps state digests and patch digests from ever colliding, and the
// version suffix enables future algorithm migration.
const (
	DomainState = "deltakernel/state/v1"
	DomainPatch = "deltakernel/patch/v1"
)

// GenesisHash is the prev_hash carried by a genesis delta: the digest of an
// empty document under the state domain. Using a real digest rather than an
// empty string keeps the chain rule uniform.
var GenesisHash = mustDigest(DomainState, Object{})

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents domain/data
// boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateDigest computes the content digest of a materialized state document.
// The digest is stable across restarts and replays given the same document;
// this is the hash stored as the entity's current_hash and chained through
// every delta.
func StateDigest(state Object) (string, error) {
	canonical, err := MarshalCanonical(state)
	if err != nil {
		return "", fmt.Errorf("StateDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// PatchDigest computes a digest over an encoded patch. Stored alongside the
// delta so an audit can detect a patch row edited after commit.
func PatchDigest(encoded []byte) string {
	return hashWithDomain(DomainPatch, encoded)
}

// MustStateDigest is like StateDigest but panics on error.
// Use only in tests or when the document is known to be valid.
func MustStateDigest(state Object) string {
	d, err := StateDigest(state)
	if err != nil {
		panic(err)
	}
	return d
}

func mustDigest(domain string, state Object) string {
	canonical, err := MarshalCanonical(state)
	if err != nil {
		panic(err)
	}
	return hashWithDomain(domain, canonical)
}
