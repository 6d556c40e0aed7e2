// Package main provides weirctl, the operator CLI for the pipeline.
// It drives the gateway's sync and buffer surfaces and the coordinator's
// control surface over HTTP.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
