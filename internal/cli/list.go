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

// NewChannelCmd creates the channel command.
func NewChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage imaging channels",
	}

	cmd.AddCommand(
		NewChannelAddCmd(),
		NewChannelListCmd(),
	)

	return cmd
}

// NewChannelAddCmd creates the channel add command.
func NewChannelAddCmd() *cobra.Command {
	var (
		role         string
		excitation   float64
		emission     float64
		color        string
		order        int
		segmentation bool
	)

	cmd := &cobra.Command{
		Use:   "add <path> <name>",
		Short: "Add an imaging channel",
		Long: `Add a named imaging channel to an experiment.

Examples:
  percell channel add exp.percell DAPI --role nucleus --color 0000FF
  percell channel add exp.percell GFP --excitation 488 --emission 510 --segmentation`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			return store.With(ctx, args[0], func(s *store.ExperimentStore) error {
				_, err := s.AddChannel(ctx, store.ChannelSpec{
					Name:           args[1],
					Role:           role,
					ExcitationNM:   excitation,
					EmissionNM:     emission,
					Color:          color,
					DisplayOrder:   order,
					IsSegmentation: segmentation,
				})
				if err != nil {
					return err
				}
				fmt.Printf("✓ Added channel %s\n", args[1])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "channel role (e.g. nucleus, signal)")
	cmd.Flags().Float64Var(&excitation, "excitation", 0, "excitation wavelength (nm)")
	cmd.Flags().Float64Var(&emission, "emission", 0, "emission wavelength (nm)")
	cmd.Flags().StringVar(&color, "color", "", "display color (6 hex digits)")
	cmd.Flags().IntVar(&order, "order", 0, "display order")
	cmd.Flags().BoolVar(&segmentation, "segmentation", false, "mark as segmentation channel")

	return cmd
}

// NewChannelListCmd creates the channel list command.
func NewChannelListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <path>",
		Short: "List imaging channels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			return store.With(ctx, args[0], func(s *store.ExperimentStore) error {
				channels, err := s.Channels(ctx)
				if err != nil {
					return err
				}
				for _, c := range channels {
					line := c.Name
					if c.Role != "" {
						line += " (" + c.Role + ")"
					}
					if c.IsSegmentation {
						line += " [segmentation]"
					}
					fmt.Println(line)
				}
				return nil
			})
		},
	}

	return cmd
}

// NewFOVCmd creates the fov command.
func NewFOVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fov",
		Short: "Inspect fields of view",
	}

	cmd.AddCommand(NewFOVListCmd())

	return cmd
}

// NewFOVListCmd creates the fov list command.
func NewFOVListCmd() *cobra.Command {
	var (
		condition string
		bioRep    string
		timepoint string
	)

	cmd := &cobra.Command{
		Use:   "list <path>",
		Short: "List fields of view",
		Long: `List fields of view, optionally filtered by hierarchy.

Examples:
  percell fov list exp.percell
  percell fov list exp.percell --condition control
  percell fov list exp.percell --condition control --bio-rep N2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			return store.With(ctx, args[0], func(s *store.ExperimentStore) error {
				fovs, err := s.FOVs(ctx, store.FOVFilter{
					Condition: condition,
					BioRep:    bioRep,
					Timepoint: timepoint,
				})
				if err != nil {
					return err
				}
				for _, f := range fovs {
					path, err := s.GroupPath(ctx, store.FOVRef{
						Name:      f.Name,
						Condition: f.Condition,
						BioRep:    f.BioRep,
						Timepoint: f.Timepoint,
					})
					if err != nil {
						return err
					}
					fmt.Printf("%s (%dx%d)\n", path, f.Width, f.Height)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&condition, "condition", "", "filter by condition")
	cmd.Flags().StringVar(&bioRep, "bio-rep", "", "filter by biological replicate (requires --condition)")
	cmd.Flags().StringVar(&timepoint, "timepoint", "", "filter by timepoint")

	return cmd
}
