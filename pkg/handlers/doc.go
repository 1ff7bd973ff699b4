// Package handlers provides the built-in step handlers: the global model operations available at
// every address, composite batches, and the handlers of resources that carry live runtime state.
//
// Handlers only decompose; all tree access happens inside the Steps they add, so a composite that
// adds a parent and then a child sees the parent in the Working Copy by the time the child applies.
package handlers
