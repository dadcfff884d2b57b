package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"image-magic/internal/prompt"
)

func newOptionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List modes, aspect ratios, banner themes and styles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			sections := []struct {
				title string
				opts  []prompt.NamedOption
			}{
				{"Modes", prompt.Modes()},
				{"Aspect ratios", prompt.AspectRatios()},
				{"Banner themes", prompt.BannerThemes()},
				{"Banner styles", prompt.BannerStyles()},
			}
			for _, sec := range sections {
				rows := make([][]string, 0, len(sec.opts))
				for _, o := range sec.opts {
					rows = append(rows, []string{o.Key, o.Name})
				}
				fmt.Fprintln(out, sec.title)
				fmt.Fprintln(out, renderTable([]string{"Key", "Name"}, rows, nil))
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "Variants: %d to %d results per image\n", prompt.MinVariants, prompt.MaxVariants)
			return nil
		},
	}
}
