// Command durable runs and inspects durable workflows.
//
// Configuration is read from flags, DURABLE_* environment variables (DURABLE_POSTGRES_HOST for
// --postgres-host) and an optional durable.yaml in the working directory, in that order of precedence.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
