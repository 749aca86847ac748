// Command orchestrator-coordinator runs the phase scheduler, the
// agent-claim RPC surface, and the sequential merge coordinator.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anthropics/task-orchestrator/internal/backlog"
	"github.com/anthropics/task-orchestrator/internal/config"
	"github.com/anthropics/task-orchestrator/internal/coordinator"
	"github.com/anthropics/task-orchestrator/internal/gitutil"
	"github.com/anthropics/task-orchestrator/internal/merge"
	"github.com/anthropics/task-orchestrator/internal/notify"
	"github.com/anthropics/task-orchestrator/internal/prhost"
	"github.com/anthropics/task-orchestrator/internal/scheduler"
	"github.com/anthropics/task-orchestrator/internal/statestore"
)

var (
	configPath string
	listenAddr string
	backlogPath string
	dbPath     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orchestrator-coordinator",
		Short: "Schedules backlog phases, arbitrates task claims, and serializes merges",
		RunE:  run,
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "address to listen on")
	rootCmd.Flags().StringVar(&backlogPath, "backlog", "", "path to backlog YAML (loaded once on startup if the database has no tasks yet)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "path to the sqlite state database")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("listen") {
		cfg.General.ListenAddr = listenAddr
	}
	if cmd.Flags().Changed("db") {
		cfg.General.DatabasePath = dbPath
	}

	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
		return err
	}
	store, err := statestore.Open(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	if backlogPath != "" {
		if err := loadBacklogIfEmpty(store, backlogPath); err != nil {
			return err
		}
	}

	coord := coordinator.New(coordinator.Config{
		Addr:         cfg.General.ListenAddr,
		AgentTimeout: cfg.Timeouts.AgentHeartbeat,
		CleanupCron:  reaperCron(cfg.Timeouts.ReaperInterval),
		TaskLockTTL:  cfg.Timeouts.TaskLockTTL,
		KindEnabled:  cfg.AgentAssignment.KindEnabled,
	}, store)

	sched := scheduler.New(store, coord.Bus())

	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	var operator notify.Notifier = notify.NoopNotifier{}
	if len(notifiers) > 0 {
		operator = notify.NewMultiNotifier(notifiers...)
	}
	coord.SetOperatorNotifier(operator)
	sched.SetOperatorNotifier(operator)

	workspace := &gitutil.MergeWorkspace{
		Runner:       gitutil.ExecRunner{},
		Dir:          cfg.Git.MainlineRepo,
		Mainline:     cfg.Git.Mainline,
		PushToRemote: cfg.Git.PushToRemote,
	}
	var host *prhost.Host
	if cfg.Git.AutoPR && cfg.Git.PushToRemote {
		host = &prhost.Host{Runner: gitutil.ExecRunner{}}
	}
	checks := cfg.QualityGates.Checks
	var checker merge.Checker
	if len(checks) > 0 {
		checker = &merge.ShellChecker{Checks: checks, Sink: func(line string) { log.Println(line) }}
	}
	mergeWorker := merge.NewWorker(merge.Config{MaxRetries: cfg.Advanced.MaxRetries, StepTimeout: cfg.Timeouts.MergeStepTimeout}, store, workspace, checker, host, sched, coord.Bus())
	mergeWorker.SetOperatorNotifier(operator)
	coord.SetMergeEnqueuer(mergeWorker)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		cancel()
	}()

	go func() {
		if err := mergeWorker.Run(ctx); err != nil {
			log.Printf("merge worker stopped: %v", err)
		}
	}()

	return coord.Start(ctx)
}

// reaperCron turns the configured reaper interval into a robfig/cron
// "@every" spec; a zero interval falls back to the default 60s cadence
// rather than disabling the sweep outright.
func reaperCron(interval time.Duration) string {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return "@every " + interval.String()
}

func loadBacklogIfEmpty(store *statestore.Store, path string) error {
	existing, err := store.ListAllTasks()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	tasks, err := backlog.Load(path)
	if err != nil {
		return fmt.Errorf("loading backlog: %w", err)
	}
	phases, err := backlog.CompilePhases(tasks)
	if err != nil {
		return fmt.Errorf("compiling phases: %w", err)
	}
	for _, t := range tasks {
		if err := store.UpsertTask(t); err != nil {
			return err
		}
	}
	return store.SavePhases(phases)
}
