// Command hypermerge is the CLI entrypoint for the replication engine.
package main

import (
	"github.com/qri-io/hypermerge/cmd"
)

func main() {
	cmd.Execute()
}
