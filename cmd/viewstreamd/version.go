package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of viewstreamd",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("viewstreamd %s\n", Version)
	},
}
