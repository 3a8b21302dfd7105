// Package core provides the artifact, fingerprint, and cache models of the
// brick dependency engine.
//
// # Design Principles
//
// All structures in this package adhere to the following constraints:
//
//  1. Identity is derived from content, never from paths or timestamps.
//  2. Nothing partially written is ever observable: cache entries and
//     records are installed by atomic rename.
//  3. Memoized fingerprints live for one run; only persisted production
//     records carry knowledge across runs.
//
// # Core Types
//
// ArtifactSlot: a named input or output declared by a brick.
// ArtifactRef: a slot resolved to concrete file locations.
// Fingerprint: a BLAKE3 digest of a file or of an ordered file list.
// ProductionRecord: the fingerprints a node was last produced from.
// CacheKey: input fingerprints plus a computation variant tag.
// ContentCache: a content-addressed store with atomic publish.
package core
