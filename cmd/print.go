package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/qri-io/hypermerge/actor"
)

var noColor bool

// SetNoColor applies the --no-color flag to the fatih/color package
// global, the way the teacher's own SetNoColor does.
func SetNoColor() {
	color.NoColor = noColor
}

// PrintSuccess prints msg in green.
func PrintSuccess(msg string, params ...interface{}) {
	color.Green(msg, params...)
}

// PrintInfo prints msg in white.
func PrintInfo(msg string, params ...interface{}) {
	color.White(msg, params...)
}

// PrintWarning prints msg in yellow.
func PrintWarning(msg string, params ...interface{}) {
	color.Yellow(msg, params...)
}

// PrintErr prints err in red.
func PrintErr(err error) {
	color.Red(err.Error())
}

// PrintDocRef prints a one-line summary of a document id, the way the
// teacher's PrintDatasetRefInfo formats a dataset reference.
func PrintDocRef(i int, id actor.ID, fieldCount int) {
	cyan := color.New(color.FgCyan).SprintFunc()
	white := color.New(color.FgWhite).SprintFunc()
	fmt.Printf("%s  %s  %s\n", cyan(i), white(id), humanize.Comma(int64(fieldCount))+" fields")
}
