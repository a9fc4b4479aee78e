// Copyright 2025 Joshua Marcus
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

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

// Execute runs the root command.
func Execute(version string) error {
	rootCmd := NewRootCmd(version)
	return rootCmd.Execute()
}

// NewRootCmd creates the root command.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "percell",
		Short: "percell - Single-cell microscopy analysis workbench",
		Long: `percell manages self-contained experiment directories for single-cell
microscopy analysis: a relational metadata database and chunked array
stores for images, segmentation labels, and threshold masks, unified
behind one store with full provenance.

Segment any channel, measure any other, re-threshold and re-classify in
any order - the store keeps every run replayable.`,
		Version: version,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("percell v" + version)
			fmt.Println("Use 'percell --help' for available commands")
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (accepted but not read; config commands always use $HOME/.percell/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(NewCreateCmd())
	rootCmd.AddCommand(NewInfoCmd())
	rootCmd.AddCommand(NewChannelCmd())
	rootCmd.AddCommand(NewFOVCmd())
	rootCmd.AddCommand(NewExportCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewVersionCmd(version))

	return rootCmd
}
