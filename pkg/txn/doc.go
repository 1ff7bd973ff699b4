// Package txn implements the Local Transaction Coordinator: the single writer of one process's
// resource tree.
//
// Top-level operations are admitted one at a time in arrival order. Each runs in its own
// Operation Context over a Working Copy of the committed tree; on success the new tree is
// persisted and then published with an atomic pointer swap, so readers observe either the old
// or the new tree and never a partial one.
package txn
