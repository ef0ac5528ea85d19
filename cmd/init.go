package cmd

import (
	"github.com/fatih/color"
	"github.com/killallgit/streamline/pkg/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a settings file with every default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ".streamline"
		if len(args) == 1 {
			dir = args[0]
		}

		path, err := config.WriteDefaults(dir)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ settings at %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
