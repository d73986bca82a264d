package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var Version = "0.1.0"

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "print version",
	Long:  ``,
	Run: func(*cobra.Command, []string) {
		fmt.Println(Version)
	},
}
