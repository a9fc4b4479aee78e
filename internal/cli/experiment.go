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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcusjoshm/percell/internal/store"
)

// NewCreateCmd creates the create command.
func NewCreateCmd() *cobra.Command {
	var (
		name        string
		description string
	)

	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Create a new experiment directory",
		Long: `Create a self-contained experiment directory with its metadata
database and array stores.

Examples:
  percell create /data/exp1.percell --name exp1
  percell create ./drug_screen.percell --name drug_screen --description "48h screen"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			ctx := context.Background()

			s, err := store.Create(ctx, path, name, description)
			if err != nil {
				return fmt.Errorf("create experiment: %w", err)
			}
			defer func() { _ = s.Close() }()

			fmt.Printf("✓ Created experiment %q at %s\n", name, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "experiment name (required)")
	cmd.Flags().StringVar(&description, "description", "", "experiment description")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

// NewInfoCmd creates the info command.
func NewInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <path>",
		Short: "Show experiment summary",
		Long:  "Display experiment metadata, hierarchy counts, and segmentation state.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			return store.With(ctx, args[0], func(s *store.ExperimentStore) error {
				exp, err := s.Experiment(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Experiment: %s\n", exp.Name)
				if exp.Description != "" {
					fmt.Printf("Description: %s\n", exp.Description)
				}
				fmt.Printf("Version: %s\n", exp.Version)
				fmt.Printf("Created: %s\n", exp.CreatedAt.Format("2006-01-02 15:04:05"))

				channels, err := s.Channels(ctx)
				if err != nil {
					return err
				}
				conditions, err := s.Conditions(ctx)
				if err != nil {
					return err
				}
				fovs, err := s.FOVs(ctx, store.FOVFilter{})
				if err != nil {
					return err
				}
				count, err := s.CellCount(ctx, store.CellFilter{})
				if err != nil {
					return err
				}
				fmt.Printf("Channels: %d  Conditions: %d  FOVs: %d  Cells: %d\n",
					len(channels), len(conditions), len(fovs), count)

				if verbose {
					summary, err := s.FOVSegmentationSummary(ctx)
					if err != nil {
						return err
					}
					for _, row := range summary {
						fmt.Printf("  %s/%s/%s: %d cells, %d runs\n",
							row.Condition, row.BioRep, row.FOV, row.CellCount, row.Runs)
					}
				}
				return nil
			})
		},
	}

	return cmd
}
