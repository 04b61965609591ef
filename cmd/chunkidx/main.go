// Command chunkidx builds, publishes and queries shared index chunks.
package main

import (
	"os"

	"github.com/hupe1980/chunkidx/cmd/chunkidx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
