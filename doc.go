/*
Package keel is a transactional management kernel for a fleet of server processes.

Every process holds a resource tree (subsystems, datasources, system properties, servers) and
applies administrator operations to it atomically: an operation either commits, or leaves the
tree exactly as it was. A controller extends that guarantee across its subordinates with a
two-phase commit, so a fleet operation lands on every participant or on none.

# Usage

Embed a single process with New and submit operations through it:

	k, err := keel.New(ctx, "master")
	if err != nil {
		log.Fatal(err)
	}
	resp, err := k.Submit(ctx, domain.NewOperation(domain.OpAdd,
		domain.MustParseAddress("/subsystem=datasources"),
		map[string]any{"jndi-name": "java:/ExampleDS"}))

Processes that join a fleet are usually run with the keel command instead; see cmd/keel.

# Packages

  - pkg/domain: addresses, resources, operations and outcomes.
  - pkg/txn: the per-process transaction coordinator.
  - pkg/fleet: the two-phase commit across participants.
  - pkg/adapters: storage, HTTP, MCP and websocket adapters.
*/
package keel
