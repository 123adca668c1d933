package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/icdev-ai/dispatch/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dispatch version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dispatch %s\n", version.Get())
	},
}
