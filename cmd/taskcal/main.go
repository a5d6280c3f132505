package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"taskcal/internal/auth"
	"taskcal/internal/config"
	"taskcal/internal/dateutil"
	"taskcal/internal/export"
	"taskcal/internal/lifecycle"
	applog "taskcal/internal/log"
	"taskcal/internal/recurrence"
	"taskcal/internal/store"
	"taskcal/internal/web"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskcal",
		Short: "Personal/shared calendar service with recurring tasks",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/taskcal/config.yaml", "path to config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(gcCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	applog.SetLevel(applog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func newStore(cfg *config.Config) *store.Store {
	return store.New(cfg.DataDir, cfg.HiddenRetentionMonths, dateutil.SystemClock)
}

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the calendar HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			applog.Info("effective config",
				"listen", cfg.Listen,
				"data_dir", cfg.DataDir,
				"week_start", cfg.WeekStart,
				"timezone", cfg.Timezone,
				"hidden_retention_months", cfg.HiddenRetentionMonths,
				"ical_export", cfg.FeatureICalExport,
			)

			st := newStore(cfg)
			engine := recurrence.New(dateutil.SystemClock)
			manager := lifecycle.New(st, dateutil.SystemClock)
			sessions := auth.NewSessionStore(time.Duration(cfg.SessionTTLHours)*time.Hour, dateutil.SystemClock)

			authn, err := auth.LoadAuthentication(cfg.UsersFile, cfg.PasswordSalt)
			if err != nil {
				return err
			}

			exporter := export.New(st, engine, dateutil.SystemClock, cfg.Timezone, cfg.MonthsToExport)

			srv := web.NewServer(web.Deps{
				Config:         cfg,
				Store:          st,
				Engine:         engine,
				Manager:        manager,
				Authentication: authn,
				Sessions:       sessions,
				Exporter:       exporter,
			})

			// Background schedules: expired-session eviction and the
			// calendar GC sweep (compaction + hidden-entry retention for
			// untouched calendars).
			sched := cron.New()
			if _, err := sched.AddFunc(cfg.SessionSweepCron, func() {
				if n := sessions.Evict(); n > 0 {
					applog.Debug("evicted expired sessions", "count", n)
				}
			}); err != nil {
				return fmt.Errorf("session sweep schedule %q: %w", cfg.SessionSweepCron, err)
			}
			if _, err := sched.AddFunc(cfg.GCCron, func() {
				n, err := st.Sweep()
				if err != nil {
					applog.Error("calendar gc sweep failed", err)
					return
				}
				applog.Info("calendar gc sweep done", "calendars", n)
			}); err != nil {
				return fmt.Errorf("gc schedule %q: %w", cfg.GCCron, err)
			}
			sched.Start()
			defer sched.Stop()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				applog.Info("signal received, shutting down", "signal", sig.String())
				cancel()
			}()

			err = web.StartServer(ctx, srv)
			applog.Info("taskcal exiting")
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(userAddCmd())
	cmd.AddCommand(userListCmd())
	return cmd
}

func userAddCmd() *cobra.Command {
	var defaultCalendar string

	cmd := &cobra.Command{
		Use:   "add [username] [password]",
		Short: "Add a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			authn, err := auth.LoadAuthentication(cfg.UsersFile, cfg.PasswordSalt)
			if err != nil {
				return err
			}
			added, err := authn.AddUser(args[0], args[1], defaultCalendar)
			if err != nil {
				return err
			}
			if !added {
				return fmt.Errorf("user %q already exists", args[0])
			}
			fmt.Printf("Added user %s (default calendar: %s)\n", args[0], defaultCalendar)
			return nil
		},
	}

	cmd.Flags().StringVar(&defaultCalendar, "calendar", "sample", "default calendar id for the new user")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			authn, err := auth.LoadAuthentication(cfg.UsersFile, cfg.PasswordSalt)
			if err != nil {
				return err
			}
			for _, name := range authn.Usernames() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "export [calendar-id]",
		Short: "Write a calendar's ICS feed to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			calendarID := args[0]

			st := newStore(cfg)
			doc, err := st.Load(calendarID)
			if err != nil {
				return err
			}
			if username != "" {
				if !auth.NewAuthorization(st).CanAccess(username, doc) {
					return fmt.Errorf("user %q cannot access calendar %q", username, calendarID)
				}
			}

			engine := recurrence.New(dateutil.SystemClock)
			exporter := export.New(st, engine, dateutil.SystemClock, cfg.Timezone, cfg.MonthsToExport)
			return exporter.Export(username, calendarID, doc, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&username, "user", "", "username to brand the feed with (access-checked when set)")
	return cmd
}

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Re-save all calendars to run compaction and hidden-entry GC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := newStore(cfg).Sweep()
			if err != nil {
				return err
			}
			fmt.Printf("Swept %d calendar(s)\n", n)
			return nil
		},
	}
}
