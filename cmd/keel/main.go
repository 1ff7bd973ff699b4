// Command keel runs and drives keel processes: controllers, subordinates and the MCP server,
// plus client commands that submit operations and read the tree of a running process.
package main

func main() {
	Execute()
}
