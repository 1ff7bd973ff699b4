/*
Package ports defines the driven ports (interfaces) of the kernel.

These interfaces decouple the coordinators from external implementations, allowing
the kernel to work with various storage backends, lock services and transports.

# Key Interfaces

  - SnapshotStore: Persists the committed resource tree of a process.
  - DistributedLocker: Provides distributed locking when several instances share one store.
  - Channel: Bidirectional, ordered message link between a coordinator and a subordinate.
*/
package ports
