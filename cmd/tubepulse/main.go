package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tubepulse",
		Short:         "Track a region's trending YouTube chart and derive daily movement views",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(ingestCmd())
	root.AddCommand(viewsCmd())
	root.AddCommand(runCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(pruneCmd())

	return root
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch today's chart and store it as a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context())
		},
	}
}

func viewsCmd() *cobra.Command {
	var (
		limit      int
		outDir     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "views",
		Short: "Compute the derived views over stored snapshots and write them out",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runViews(cmd.Context(), viewsOptions{
				limit:      limit,
				limitSet:   cmd.Flags().Changed("limit"),
				outDir:     outDir,
				jsonOutput: jsonOutput,
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "top-N row count (default: views.top_limit from config)")
	cmd.Flags().StringVar(&outDir, "out", "", "artifact directory (default: output.dir from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline once: ingest, views, artifacts and digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context())
		},
	}
}

func daemonCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start the cron scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: server.port from config)")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: server.port from config)")
	return cmd
}

func pruneCmd() *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots older than a date (the latest two are always kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(cmd.Context(), before)
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "delete snapshots before this YYYY-MM-DD date (default: today minus retention.days)")
	return cmd
}
