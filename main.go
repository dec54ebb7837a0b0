// The main package for the link-validator executable.
package main

import (
	"github.com/JakeFAU/link-validator/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
