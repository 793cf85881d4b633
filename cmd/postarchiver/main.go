// The main package for the postarchiver executable.
package main

import "github.com/JakeFAU/post-archiver/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
