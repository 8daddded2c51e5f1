// Command messagebus runs the message bus gRPC service and offers small client
// commands for probing a running instance.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
