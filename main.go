// The main package for the weirdhost-renewer executable.
package main

import (
	"os"

	"github.com/JakeFAU/weirdhost-renewer/cmd"
)

// main defers all execution to the Cobra CLI and exits with its code.
func main() {
	os.Exit(cmd.Execute())
}
