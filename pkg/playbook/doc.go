// Package playbook implements the versioned strategy store at the heart of
// the ACE learning loop.
//
// A playbook is a set of named sections, each holding an ordered list of
// bullets. A bullet is one atomic, citable strategy with helpful/harmful
// usage counters. All mutation flows through Apply as a batch of delta
// operations (ADD, UPDATE, TAG, REMOVE); each committed batch produces an
// immutable Revision that records the operations applied together with the
// inverse operations needed to undo them.
//
// Concurrency follows optimistic version checking: a batch computed against
// snapshot version N is rejected with a ConflictDetected error when a later
// commit has touched any of the batch's target bullets. Non-conflicting
// concurrent commits both succeed. Conflict detection operates at bullet-id
// granularity.
//
// Two store implementations share the same delta engine: MemoryStore for
// tests and embedded use, and SQLiteStore for durable deployments.
package playbook
