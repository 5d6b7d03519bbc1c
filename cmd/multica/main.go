// Package main is the entry point for the multica CLI application.
package main

import (
	"fmt"
	"os"

	"github.com/stillfox-lee/multica-sub001/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
