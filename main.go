// ./main.go
package main

import (
	"github.com/factuscan/factuscan/cmd"
)

// main is the entry point for the factuscan CLI.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
