package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/clockwatch/pkg/auth"
	"github.com/harrisonrobin/clockwatch/pkg/clickup"
	"github.com/harrisonrobin/clockwatch/pkg/config"
	"github.com/harrisonrobin/clockwatch/pkg/google"
	"github.com/harrisonrobin/clockwatch/pkg/identity"
	"github.com/harrisonrobin/clockwatch/pkg/logger"
	"github.com/harrisonrobin/clockwatch/pkg/notify"
	"github.com/harrisonrobin/clockwatch/pkg/pipeline"
	"github.com/harrisonrobin/clockwatch/pkg/schedule"
	"github.com/harrisonrobin/clockwatch/pkg/slack"
)

type flags struct {
	configPath string
	logLevel   string
	logJSON    bool
	dryRun     bool
	force      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "clockwatch",
		Short:         "Audit ClickUp tasks for time tracking and daily updates, and nudge people on Slack",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), f)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/clockwatch/config.yaml)")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&f.logJSON, "log-json", false, "log as JSON")
	pf.BoolVar(&f.dryRun, "dry-run", false, "log messages instead of sending them")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run one audit and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runOnce(cmd.Context(), f)
			},
		},
		&cobra.Command{
			Use:   "schedule",
			Short: "Run audits on the configured cron schedule until interrupted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduled(cmd.Context(), f)
			},
		},
		&cobra.Command{
			Use:   "auth",
			Short: "Authorize Gmail delivery with your Google account",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runAuth(cmd.Context(), f)
			},
		},
		newInitCmd(f),
		&cobra.Command{
			Use:   "check-config",
			Short: "Validate the configuration and print the identity map",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return checkConfig(cmd, f)
			},
		},
	)
	return root
}

func newInitCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := f.configPath
			if path == "" {
				p, err := config.GetConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !f.force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			cfg := config.Default()
			cfg.TrackedSpaces = []string{"My Space"}
			cfg.Identities = map[string]string{"Jane Doe": "U0000000"}
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Set TEAM_ID, CLICKUP_TOKEN and SLACK_TOKEN in the environment or a .env file.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.force, "force", false, "overwrite an existing config file")
	return cmd
}

// setup loads the config and attaches the configured logger to ctx.
func setup(ctx context.Context, f *flags) (context.Context, *config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return ctx, nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logJSON {
		cfg.LogJSON = true
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = logger.LogLevel(cfg.LogLevel)
	logCfg.JSON = cfg.LogJSON
	log := logger.NewLogger(logCfg)
	logger.SetDefault(log)
	return logger.ContextWithLogger(ctx, log), cfg, nil
}

func newSink(ctx context.Context, cfg *config.Config, dryRun bool) (notify.Sink, error) {
	if dryRun {
		return notify.LogSink{}, nil
	}
	switch cfg.Notifier {
	case config.NotifierGmail:
		sink, err := google.NewClient(ctx, cfg.GmailSender)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return slack.NewSink(cfg.SlackToken), nil
	}
}

func newRunner(ctx context.Context, f *flags) (context.Context, *config.Config, *pipeline.Runner, error) {
	ctx, cfg, err := setup(ctx, f)
	if err != nil {
		return ctx, nil, nil, err
	}
	if f.dryRun && cfg.Notifier == config.NotifierSlack && cfg.SlackToken == "" {
		cfg.SlackToken = "dry-run"
	}
	if err := cfg.Validate(); err != nil {
		return ctx, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	sink, err := newSink(ctx, cfg, f.dryRun)
	if err != nil {
		return ctx, nil, nil, err
	}
	src := clickup.NewClient(clickup.Options{
		BaseURL:        cfg.ClickUpBaseURL,
		Token:          cfg.ClickUpToken,
		MaxConcurrency: cfg.MaxConcurrency,
		MinInterval:    cfg.MinRequestInterval,
		Timeout:        cfg.RequestTimeout,
		Debug:          logger.LogLevel(cfg.LogLevel) == logger.DebugLevel,
	})
	runner, err := pipeline.New(cfg, src, sink)
	if err != nil {
		return ctx, nil, nil, err
	}
	return ctx, cfg, runner, nil
}

func runOnce(ctx context.Context, f *flags) error {
	ctx, _, runner, err := newRunner(ctx, f)
	if err != nil {
		return err
	}
	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

func printReport(r pipeline.Report) {
	fmt.Printf("Run %s: %d tasks, %d skipped, %d issues, %d reviewer alerts, %d compliant, %d ignored\n",
		r.RunID, r.Tasks, r.Skipped, r.Issues, r.ReviewerAlerts, r.Compliant, r.Ignored)
	fmt.Printf("Notifications: %d planned, %d sent, %d failed\n", r.Notify.Planned, r.Notify.Sent, r.Notify.Failed)
	if r.Partial {
		fmt.Println("Warning: the run hit its deadline, results are partial")
	}
}

func runScheduled(ctx context.Context, f *flags) error {
	ctx, cfg, runner, err := newRunner(ctx, f)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	return schedule.Run(ctx, cfg.Schedule, loc, func(ctx context.Context) error {
		_, err := runner.Run(ctx)
		return err
	})
}

func runAuth(ctx context.Context, f *flags) error {
	ctx, _, err := setup(ctx, f)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	if err := auth.RemoveToken(); err != nil {
		return fmt.Errorf("could not remove the existing token, please delete it manually: %w", err)
	}
	if _, err := google.NewGmailService(ctx, true); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	log.Info("authentication successful", "token_file", auth.TokenFile)
	return nil
}

func checkConfig(cmd *cobra.Command, f *flags) error {
	_, cfg, err := setup(cmd.Context(), f)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ids, err := identity.New(cfg.Identities, cfg.Managers)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Team %s, notifier %s, tracked spaces %v\n", cfg.TeamID, cfg.Notifier, cfg.TrackedSpaces)
	names := make([]string, 0, len(cfg.Identities))
	for name := range cfg.Identities {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(out, "%d identities:\n", ids.Len())
	for _, name := range names {
		to, _ := ids.Resolve(name)
		fmt.Fprintf(out, "  %s -> %s\n", name, to)
	}
	for _, space := range cfg.TrackedSpaces {
		if managers := ids.Managers(space); len(managers) > 0 {
			fmt.Fprintf(out, "Managers of %s: %v\n", space, managers)
		}
	}
	return nil
}
