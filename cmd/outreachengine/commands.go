package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"OutreachEngine/internal/app"
	"OutreachEngine/internal/config"
	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/logging"
	"OutreachEngine/internal/usecase"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Search for prospects and store the relevant ones",
	Args:  cobra.NoArgs,
	RunE:  runJob(usecase.JobDiscover),
}

var outreachCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Send first-contact messages within today's quota",
	Args:  cobra.NoArgs,
	RunE:  runJob(usecase.JobOutreach),
}

var followUpsCmd = &cobra.Command{
	Use:   "followups",
	Short: "Send follow-ups that are due",
	Args:  cobra.NoArgs,
	RunE:  runJob(usecase.JobFollowUps),
}

var retryCmd = &cobra.Command{
	Use:   "retry <prospect-key>",
	Short: "Return a prospect whose first delivery failed to the outreach pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app.Application) error {
			p, err := a.Jobs().Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(p)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show prospect counts per state and pending follow-ups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app.Application) error {
			st, err := a.Jobs().Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(st)
		})
	},
}

var prospectState string

var prospectsCmd = &cobra.Command{
	Use:   "prospects",
	Short: "List stored prospects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app.Application) error {
			list, err := a.Jobs().Prospects(cmd.Context(), domain.State(prospectState))
			if err != nil {
				return err
			}
			return printJSON(list)
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app.Application) error {
			return a.Serve(cmd.Context())
		})
	},
}

func init() {
	prospectsCmd.Flags().StringVar(&prospectState, "state", "", "only list prospects in this state")
}

func runJob(name string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(a *app.Application) error {
			report, err := a.Jobs().Run(cmd.Context(), name)
			if report != nil {
				if perr := printJSON(report); perr != nil {
					return perr
				}
			}
			return err
		})
	}
}

func loadConfig() config.Config {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

func rootLogger() *slog.Logger {
	return logging.New(loadConfig().Logging.Level)
}

func withApp(cmd *cobra.Command, fn func(a *app.Application) error) error {
	cfg := loadConfig()
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			logger.Warn("close store", "error", cerr)
		}
	}()
	return fn(application)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
