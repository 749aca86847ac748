package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

// Config holds all orchestrator configuration, loaded from a TOML file
// and overridable by CLI flags at the command layer.
type Config struct {
	General        GeneralConfig        `toml:"general"`
	Git            GitConfig            `toml:"git"`
	QualityGates   QualityGatesConfig   `toml:"quality_gates"`
	Timeouts       TimeoutsConfig       `toml:"timeouts"`
	Advanced       AdvancedConfig       `toml:"advanced"`
	AgentAssignment AgentAssignmentConfig `toml:"agent_assignment"`
	Notifications  NotificationsConfig  `toml:"notifications"`
}

type GeneralConfig struct {
	WorktreeDir  string `toml:"worktree_dir"`
	DatabasePath string `toml:"database_path"`
	ListenAddr   string `toml:"listen_addr"`
}

// GitConfig configures the mainline repo and hosting provider access
// used by the merge coordinator and each agent's worktree.
type GitConfig struct {
	RepoURL      string `toml:"repo_url"`
	MainlineRepo string `toml:"mainline_repo_dir"`
	Mainline     string `toml:"mainline_branch"`
	AutoPR       bool   `toml:"auto_pr"`
	PushToRemote bool   `toml:"push_to_remote"`
}

// QualityGatesConfig lists the ordered quality-gate checks the merge
// coordinator and each agent's pre-push check run. Empty means fall
// back to internal/projectkind's auto-detected defaults. A check with
// required = false is run and logged but never fails the gate.
type QualityGatesConfig struct {
	Checks []domain.QualityCheck `toml:"checks"`
}

// TimeoutsConfig holds every duration knob the concurrency model
// depends on: agent heartbeat staleness, implementation-commit wait,
// the fix-loop's per-iteration budget, claim-retry backoff, the
// implementation-branch poll interval, the claim lock's TTL, the
// per-step budget inside one merge attempt, and the dead-agent
// reaper's sweep cadence.
type TimeoutsConfig struct {
	AgentHeartbeat   time.Duration `toml:"agent_heartbeat"`
	CommitWait       time.Duration `toml:"commit_wait"`
	FixLoopIteration time.Duration `toml:"fix_loop_iteration"`
	ClaimWait        time.Duration `toml:"claim_wait"`
	ImplPoll         time.Duration `toml:"impl_poll"`
	TaskLockTTL      time.Duration `toml:"task_lock_ttl"`
	MergeStepTimeout time.Duration `toml:"merge_step_timeout"`
	ReaperInterval   time.Duration `toml:"reaper_interval"`
}

// AdvancedConfig holds the rarer knobs.
type AdvancedConfig struct {
	MaxRetries    int `toml:"max_retries"`
	FixLoopMaxIter int `toml:"fix_loop_max_iterations"`
}

// AgentAssignmentConfig controls how many concurrent agents the
// operator intends to run, whether assignment within a phase is
// strictly priority-ordered or left to claim-time race outcome, and
// which task kinds agents are allowed to auto-claim at all.
type AgentAssignmentConfig struct {
	MaxConcurrentAgents int                        `toml:"max_concurrent_agents"`
	StrictPriorityOrder bool                       `toml:"strict_priority_order"`
	Kinds               map[domain.TaskKind]KindAssignmentConfig `toml:"kinds"`
}

// KindAssignmentConfig gates auto-claim for one task kind. A kind with
// no entry in AgentAssignmentConfig.Kinds defaults to enabled.
type KindAssignmentConfig struct {
	Enabled bool `toml:"enabled"`
}

// KindEnabled reports whether agents may auto-claim tasks of kind k. A
// kind absent from the config defaults to enabled.
func (a AgentAssignmentConfig) KindEnabled(k domain.TaskKind) bool {
	cfg, ok := a.Kinds[k]
	if !ok {
		return true
	}
	return cfg.Enabled
}

type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults for local use.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			WorktreeDir:  filepath.Join(home, ".task-orchestrator", "worktrees"),
			DatabasePath: filepath.Join(home, ".task-orchestrator", "orchestrator.db"),
			ListenAddr:   "127.0.0.1:8090",
		},
		Git: GitConfig{
			Mainline:     "main",
			AutoPR:       true,
			PushToRemote: true,
		},
		Timeouts: TimeoutsConfig{
			AgentHeartbeat:   90 * time.Second,
			CommitWait:       10 * time.Minute,
			FixLoopIteration: 30 * time.Minute,
			ClaimWait:        3 * time.Second,
			ImplPoll:         10 * time.Second,
			TaskLockTTL:      180 * time.Second, // 2x the default AgentHeartbeat
			MergeStepTimeout: 30 * time.Minute,
			ReaperInterval:   60 * time.Second,
		},
		Advanced: AdvancedConfig{
			MaxRetries:     5,
			FixLoopMaxIter: 3,
		},
		AgentAssignment: AgentAssignmentConfig{
			MaxConcurrentAgents: 3,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
// if the file does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.WorktreeDir = ExpandPath(cfg.General.WorktreeDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Git.MainlineRepo = ExpandPath(cfg.Git.MainlineRepo)

	return cfg, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "task-orchestrator", "config.toml")
}
