package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "outreachengine",
	Short:         "Discover prospects and run paced outreach campaigns",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults to $OUTREACH_CONFIG)")
	rootCmd.AddCommand(discoverCmd, outreachCmd, followUpsCmd, retryCmd, statusCmd, prospectsCmd, serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		rootLogger().Error("command failed", "error", err)
		os.Exit(1)
	}
}
