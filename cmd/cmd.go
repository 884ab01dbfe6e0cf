// Package cmd defines the command-line interface to the replication
// engine. It relies on spf13/cobra for command structure and spf13/viper
// for flag/env/config-file binding, the way the teacher's own cmd
// package is built.
package cmd

import (
	"fmt"
	"os"

	golog "github.com/ipfs/go-log"
)

var log = golog.Logger("cmd")

// ExitIfErr prints err in red and exits the process if err is non-nil.
func ExitIfErr(err error) {
	if err == nil {
		return
	}
	PrintErr(err)
	os.Exit(1)
}

// ErrExit is ExitIfErr with an additional message prefix.
func ErrExit(msg string, err error) {
	if err == nil {
		return
	}
	ExitIfErr(fmt.Errorf("%s: %w", msg, err))
}
