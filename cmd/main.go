package main

import (
	goflag "flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:   "gsymex",
	Short: "gsymex, symbolic execution engine for LLVM IR",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func main() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)

	rootCmd.AddCommand(versionCommand)
	rootCmd.AddCommand(runCommand)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
