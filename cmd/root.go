package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/waycore/cmd/gen"
)

var rootCmd = &cobra.Command{
	Use:   "waycore",
	Short: "waycore is a display protocol service",
	Long:  `waycore serves a display protocol socket and a debug HTTP endpoint`,
}

func init() {
	rootCmd.AddCommand(StartCmd)
	rootCmd.AddCommand(VersionCmd)
	rootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
