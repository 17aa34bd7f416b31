// Package doc defines the constrained document model used for all
// materialized entity state.
//
// State documents are trees of Null, String, Int, Bool, Array, and Object
// values. Floats are forbidden: every digest in the ledger is computed over
// RFC 8785 canonical JSON, and float formatting differences across platforms
// would break replay equivalence.
//
// The two exported serializations serve different purposes:
//   - MarshalCanonical: RFC 8785 canonical JSON, the ONLY form used for
//     digest computation and for TEXT columns the ledger stores.
//   - Object.MarshalJSON: sorted-key JSON for human-facing output (may
//     HTML-escape; never hash it).
//
// StateDigest and domain-separated hashing live in digest.go.
package doc
