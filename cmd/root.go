// Copyright © 2016 qri.io <info@qri.io>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var dataDirFlag string

const (
	DataDirEnvKey = "HYPERMERGE_PATH"
)

// RootCmd is the base command run when no subcommand is given.
var RootCmd = &cobra.Command{
	Use:   "hypermerge",
	Short: "peer-to-peer CRDT document replication",
	Long: `hypermerge replicates JSON-like documents across peers as
append-only, content-addressed logs of CRDT changes. Each writer keeps
its own log; documents converge by merging every log a peer has seen,
with last-writer-wins conflict resolution broken by actor id.`,
}

// Execute runs RootCmd. Called once from main.main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		PrintErr(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "directory holding the archive and config (default is $HYPERMERGE_PATH or $HOME/.hypermerge)")
	RootCmd.PersistentFlags().BoolVarP(&noColor, "no-color", "c", false, "disable colorized output")

	RootCmd.AddCommand(
		NewCreateCommand(),
		NewOpenCommand(),
		NewChangeCommand(),
		NewMergeCommand(),
		NewForkCommand(),
		NewDeleteCommand(),
		NewStatusCommand(),
		NewPeersCommand(),
		NewConnectCommand(),
	)
}

func initConfig() {
	SetNoColor()
	if dataDirFlag != "" {
		viper.Set("DataDir", dataDirFlag)
	}
}

func factory() Factory {
	return NewFactory(dataDirFlag)
}
