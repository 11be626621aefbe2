// Package canonical produces RFC 8785 canonical JSON and SHA-256 digests.
//
// Canonical JSON is the only serialization used for content identity in the
// automation engine:
//   - schedule fingerprints (detecting a changed definition between prepare
//     and execute, and deciding whether an upsert replaced the content)
//   - backfilled trigger identifiers, which must be stable across parses
//
// Object keys are sorted by UTF-16 code units, strings are NFC normalized and
// HTML characters are not escaped. Unlike strict RFC 8785 producers this
// package accepts fractional numbers, since trigger goals are doubles; they are
// rendered with the shortest round-trip representation.
package canonical
