package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"image-magic/internal/prompt"
)

func newPromptCommand() *cobra.Command {
	var flags settingsFlags

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Show the prompt and model a run would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := flags.resolve(cmd)
			if err != nil {
				return err
			}

			size := prompt.ImageSizeFor(s.HighQuality)
			if size == "" {
				size = "default"
			}
			rows := [][]string{
				{"Mode", string(s.Mode)},
				{"Model", prompt.ModelFor(s.HighQuality)},
				{"Image size", size},
				{"Aspect ratio", string(s.AspectRatio)},
				{"Variants", fmt.Sprint(s.Variants)},
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Setting", "Value"}, rows, nil))
			if err := s.Validate(); err != nil {
				fmt.Fprintf(out, "\nWarning: %v\n", err)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, prompt.Compose(s.EffectiveInstruction(), s.Mode, s.HighQuality, s.FocusProduct))
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}
