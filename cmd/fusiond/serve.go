package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fuselabs/fuseforge/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fusion HTTP service",
	Long:  `Starts the fusion orchestrator, the reconciliation worker and the JSON API over HTTP.`,
	Run: func(cmd *cobra.Command, args []string) {
		application, err := buildApp(cmd)
		if err != nil {
			fmt.Printf("Error initializing fusiond: %v\n", err)
			os.Exit(1)
		}

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = application.cfg.Server.Addr
		}

		handler := api.NewHandler(application.orch, application.store, application.ledger, application.logger, application.registry)
		srv := &http.Server{
			Addr:    addr,
			Handler: handler,
		}

		workerCtx, stopWorker := context.WithCancel(context.Background())
		defer stopWorker()
		application.worker.Start(workerCtx)

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			application.logger.Info("fusiond listening", "addr", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)

		case sig := <-shutdown:
			application.logger.Info("starting shutdown", "signal", sig.String())

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), application.cfg.Server.ShutdownTimeout.Std())
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				application.logger.Error("graceful shutdown did not complete", "err", err)
				if err := srv.Close(); err != nil {
					application.logger.Error("error killing server", "err", err)
				}
			}

			// In-flight fusions run to a terminal state before we exit;
			// anything still stuck after a crash falls to the reconciler
			// on the next start.
			application.orch.Wait()
			stopWorker()
			application.worker.Stop()
			application.logger.Info("fusiond stopped")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Listen address (overrides config)")
}
