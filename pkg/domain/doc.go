/*
Package domain contains the core models of the Keel management kernel.

It defines the addressing scheme of the resource tree, the resources themselves, the operations
administrators submit, and the outcomes participants report back. This package is kept pure and
free of I/O, following Hexagonal Architecture principles.

# Key Entities

  - Address: An ordered list of key=value segments locating a resource from the root.
  - Resource: A node of the tree holding typed attributes (and, when detached, its children).
  - Operation: A named, immutable request against an Address.
  - Outcome: The per-participant result of an operation (prepared, committed, rolled back...).
  - Response: The fleet-wide answer returned to the submitting client.
*/
package domain
