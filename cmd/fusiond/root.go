package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fusiond",
	Short: "fusiond combines owned collectibles into newly minted ones",
	Long: `fusiond is the fusion orchestration service: it validates and locks
parent assets, drives generation and minting through external backends,
and resolves every fusion to a terminal state even under partial failure.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config.yaml (optional)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug | info | warn | error")
}
