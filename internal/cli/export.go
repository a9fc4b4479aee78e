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
	"os"

	"github.com/spf13/cobra"

	"github.com/marcusjoshm/percell/internal/store"
)

// NewExportCmd creates the export command.
func NewExportCmd() *cobra.Command {
	var (
		channels []string
		metrics  []string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "export <path> <output.csv>",
		Short: "Export measurements to CSV",
		Long: `Export the pivoted measurement table to a CSV file, one row per
cell with one column per channel/metric pair.

The store writes unconditionally; this command refuses to overwrite an
existing file unless --force is given.

Examples:
  percell export exp.percell measurements.csv
  percell export exp.percell dapi.csv --channels DAPI --metrics mean_intensity
  percell export exp.percell measurements.csv --force`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, out := args[0], args[1]
			ctx := context.Background()

			// Overwrite protection is caller policy.
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("output file %s already exists (use --force to overwrite)", out)
			}

			return store.With(ctx, path, func(s *store.ExperimentStore) error {
				if err := s.ExportCSV(ctx, out, channels, metrics); err != nil {
					return err
				}
				if verbose {
					fmt.Printf("✓ Exported measurements to %s\n", out)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&channels, "channels", nil, "restrict to channels")
	cmd.Flags().StringSliceVar(&metrics, "metrics", nil, "restrict to metrics")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing output file")

	return cmd
}
