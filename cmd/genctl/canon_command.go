package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"genstudio/internal/consistency"
)

// newCanonCommand compiles a character sheet locally, without the API.
func newCanonCommand() *cobra.Command {
	var scene string
	cmd := &cobra.Command{
		Use:   "canon <character.yaml>",
		Short: "Compile a character sheet into its prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			character, err := consistency.ParseCharacterYAML(data)
			if err != nil {
				return err
			}
			spec := consistency.Compile(character)
			prompt := consistency.Combine(spec, scene, "")

			rows := [][]string{
				{"Prompt", prompt.Positive},
				{"Negative", prompt.Negative},
			}
			if ref := spec.Reference; ref != nil {
				rows = append(rows,
					[]string{"Reference", ref.ImageURL},
					[]string{"Strength", strconv.FormatFloat(ref.Strength, 'f', 2, 64)},
				)
				if ref.Seed != nil {
					rows = append(rows, []string{"Seed", strconv.FormatInt(*ref.Seed, 10)})
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringVar(&scene, "scene", "", "Scene prompt to combine with the character")
	return cmd
}
