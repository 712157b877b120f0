// The main package for the pnrr executable.
package main

import (
	"github.com/JakeFAU/pnrr-announcements/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
