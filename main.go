// The main package for the feedscope executable.
package main

import (
	"github.com/feedscope/feedscope/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
