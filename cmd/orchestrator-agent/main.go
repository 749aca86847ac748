// Command orchestrator-agent runs one agent process: it registers with
// the coordinator, claims tasks, prepares a git worktree, waits for an
// implementation commit, runs local quality gates, and publishes the
// result. It never spawns the implementer itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anthropics/task-orchestrator/internal/agent"
	"github.com/anthropics/task-orchestrator/internal/config"
	"github.com/anthropics/task-orchestrator/internal/gitutil"
	"github.com/anthropics/task-orchestrator/internal/prhost"
)

var (
	configPath     string
	coordinatorURL string
	agentID        string
	repoDir        string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "orchestrator-agent",
		Short: "Claims and drives tasks to completion against an orchestrator coordinator",
		RunE:  run,
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.Flags().StringVar(&coordinatorURL, "coordinator", "", "coordinator base URL")
	rootCmd.Flags().StringVar(&agentID, "id", "", "agent id")
	rootCmd.Flags().StringVar(&repoDir, "repo", "", "path to the shared git repository")

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

	if repoDir == "" {
		repoDir = cfg.Git.MainlineRepo
	}
	if agentID == "" {
		agentID, _ = os.Hostname()
	}
	if coordinatorURL == "" {
		coordinatorURL = "http://" + cfg.General.ListenAddr
	}

	client := agent.NewClient(coordinatorURL)
	wt := &gitutil.WorktreeManager{
		Runner:      gitutil.ExecRunner{},
		RepoDir:     repoDir,
		WorktreeDir: cfg.General.WorktreeDir,
		Mainline:    cfg.Git.Mainline,
	}
	var host *prhost.Host
	if cfg.Git.AutoPR && cfg.Git.PushToRemote {
		host = &prhost.Host{Runner: gitutil.ExecRunner{}}
	}

	runtime := agent.NewRuntime(agent.Config{
		ID:             agentID,
		CoordinatorURL: coordinatorURL,
		RepoDir:        repoDir,
		WorktreeDir:    cfg.General.WorktreeDir,
		Mainline:       cfg.Git.Mainline,
		CommitWait:     cfg.Timeouts.CommitWait,
		FixLoopMaxIter: cfg.Advanced.FixLoopMaxIter,
		FixLoopWait:    cfg.Timeouts.FixLoopIteration,
		AutoPR:         cfg.Git.AutoPR && cfg.Git.PushToRemote,
		PushToRemote:   cfg.Git.PushToRemote,
		QualityGates:   cfg.QualityGates.Checks,
		ClaimWait:      cfg.Timeouts.ClaimWait,
		ImplPoll:       cfg.Timeouts.ImplPoll,
	}, client, wt, host)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return runtime.Run(ctx)
}
