package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a single reconciliation sweep and exit",
	Long: `Resolves fusions stuck in processing past the stuck-deadline:
confirmed mints are finalized as completed, the rest fail with a timeout
reason and release their parent locks.`,
	Run: func(cmd *cobra.Command, args []string) {
		application, err := buildApp(cmd)
		if err != nil {
			fmt.Printf("Error initializing fusiond: %v\n", err)
			os.Exit(1)
		}

		application.worker.Sweep(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
