// Command accesspoint runs the outbound access point: the transmission API
// in front of endpoint discovery, and a lookup tool for operators.
package main

import (
	"fmt"
	"os"
)

// Build information, set with -ldflags "-X main.version=..."
var (
	version   = "dev"
	buildID   = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
