// Command uvalens is the client of the uvalang analyzer. It runs the host
// bridge for editors (serve) and exposes one-off analyses on the command line.
package main

import (
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
