// Package main is the entry point for the FIM inventory harvester.
package main

import (
	"fmt"
	"os"

	"harvester/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
