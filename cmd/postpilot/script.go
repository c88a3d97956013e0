package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"postpilot/internal/script"
)

func scriptCmd() *cobra.Command {
	root := &cobra.Command{Use: "script", Short: "Work with placeholder scripts"}
	root.AddCommand(&cobra.Command{
		Use:   "new <path>",
		Short: "Write a producer script skeleton",
		Long: `New writes a Python script that computes a value and writes it where
postpilot reads it back. An existing file is never overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := script.WriteTemplate(args[0]); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "created", args[0])
			fmt.Fprintln(out, "its value is read from", script.OutputPath(script.DefaultOutputDir, args[0]))
			return nil
		},
	})
	return root
}
