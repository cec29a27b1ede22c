package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "server",
		Short: "Prototype version pipeline: upload, ingest and serve prototype versions",
		// serve is the default so the container entrypoint needs no arguments
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API, the in-process ingestion workers and the stale sweep",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Consume ingestion tasks from RabbitMQ",
			RunE:  runWorker,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Fail versions stuck in processing once and exit",
			RunE:  runSweep,
		},
	)
	return root
}
