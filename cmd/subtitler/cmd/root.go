// Package cmd implements the subtitler CLI's cobra command tree: a
// transcribe subcommand driving C1-C7 over a media file and a translate
// subcommand driving C8 over an existing subtitle file, both sharing the
// same env-sourced configuration and wiring helpers.
package cmd

import (
	"github.com/spf13/cobra"
)

// Root builds the subtitler command tree.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "subtitler",
		Short: "Generate and translate subtitles from audio or video",
	}

	root.AddCommand(transcribeCmd())
	root.AddCommand(translateCmd())
	return root
}
