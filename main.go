// Package main is the entry point for the decoy station.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/decoystation/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
