// Package harness runs chain scenarios against a message store.
//
// A scenario is a YAML file listing steps (raw imports, linked inserts and
// backfills) followed by expectations on the resulting links. Each run uses
// a fresh in-memory store of the chosen backend with the insert-time linker
// registered, so the same scenario can be replayed against every backend
// and must produce the same chain.
//
// IDs are assigned deterministically when a step omits them, which keeps
// golden snapshots stable across runs.
package harness
