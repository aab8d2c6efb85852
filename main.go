// The main package for the telespot executable.
package main

import (
	"github.com/JakeFAU/telespot/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
