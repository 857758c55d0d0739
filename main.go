// Package main provides the entry point for quickctx.
// quickctx is the register-context and long-jump subsystem of a hosted
// managed runtime, with an x86-32 harness machine for executing jumps.
//
// For the full CLI, use: go run ./cmd/quickctx
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("quickctx - register context & long-jump engine")
	fmt.Println("")
	fmt.Println("Usage: quickctx [options]")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  --config   Path to harness configuration JSON file")
	fmt.Println("  -v         Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/quickctx' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/quickctx' instead.")
	}
}
