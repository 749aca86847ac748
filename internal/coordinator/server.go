// Package coordinator implements the HTTP JSON RPC surface agents use
// to register, claim tasks, report completion, and receive
// notifications, plus the cleanup sweep that feeds the reaper.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/anthropics/task-orchestrator/internal/domain"
	"github.com/anthropics/task-orchestrator/internal/notify"
	"github.com/anthropics/task-orchestrator/internal/orcherr"
	"github.com/anthropics/task-orchestrator/internal/scheduler"
	"github.com/anthropics/task-orchestrator/internal/statestore"
)

// MergeEnqueuer is the subset of merge.Worker the coordinator needs
// once an agent reports a task done: hand its branch to the
// sequential FIFO so it merges in completion order.
type MergeEnqueuer interface {
	Enqueue(task *domain.Task) error
}

// Config configures the coordinator HTTP server.
type Config struct {
	Addr         string
	AgentTimeout time.Duration // heartbeat staleness before an agent is reaped
	CleanupCron  string        // optional cron expression for the sweep; empty disables
	TaskLockTTL  time.Duration // claim lock lifetime; 0 defaults to 2x AgentTimeout

	// KindEnabled gates auto-claim per task kind. Nil means every kind
	// is claimable.
	KindEnabled func(domain.TaskKind) bool
}

// Coordinator serves the agent-facing RPC surface backed by a
// statestore.Store. It holds no task state itself beyond what the
// store already persists, so a restart just reopens the same database.
type Coordinator struct {
	cfg      Config
	store    *statestore.Store
	bus      *notify.Bus
	sched    *scheduler.Scheduler
	upgrader websocket.Upgrader
	server   *http.Server
	cron     *cron.Cron
	merger   MergeEnqueuer
	operator notify.Notifier
}

// SetMergeEnqueuer wires the merge coordinator in after construction,
// since the merge worker itself is built from a reference to this
// Coordinator's Bus/Scheduler and so can't exist before New returns.
func (c *Coordinator) SetMergeEnqueuer(m MergeEnqueuer) { c.merger = m }

// SetOperatorNotifier wires a desktop/Slack notifier for operator-facing
// alerts (backlog completion, merge failures), distinct from the
// per-agent notification bus. It also reaches the coordinator's own
// Scheduler, since handleComplete's failed path advances phases here
// rather than through the merge worker's Scheduler reference.
func (c *Coordinator) SetOperatorNotifier(n notify.Notifier) {
	c.operator = n
	c.sched.SetOperatorNotifier(n)
}

// New builds a Coordinator around an already-open store.
func New(cfg Config, store *statestore.Store) *Coordinator {
	if cfg.AgentTimeout == 0 {
		cfg.AgentTimeout = 90 * time.Second
	}
	if cfg.TaskLockTTL == 0 {
		cfg.TaskLockTTL = 2 * cfg.AgentTimeout
	}
	if cfg.KindEnabled == nil {
		cfg.KindEnabled = func(domain.TaskKind) bool { return true }
	}
	bus := notify.NewBus(store)
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		sched:    scheduler.New(store, bus),
		operator: notify.NoopNotifier{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Bus exposes the notification bus for the agent package's subscriber
// side when running in-process (tests, embedded mode).
func (c *Coordinator) Bus() *notify.Bus { return c.bus }

// Start registers routes, launches the optional cron sweep, and serves
// HTTP until ctx is canceled.
func (c *Coordinator) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/agents/register", c.handleRegister)
	mux.HandleFunc("/v1/agents/heartbeat", c.handleHeartbeat)
	mux.HandleFunc("/v1/tasks/claim", c.handleClaim)
	mux.HandleFunc("/v1/tasks/complete", c.handleComplete)
	mux.HandleFunc("/v1/status", c.handleStatus)
	mux.HandleFunc("/v1/cleanup", c.handleCleanup)
	mux.HandleFunc("/v1/health", c.handleHealth)
	mux.HandleFunc("/v1/notifications/stream", c.handleNotificationStream)

	c.server = &http.Server{Addr: c.cfg.Addr, Handler: mux}

	if c.cfg.CleanupCron != "" {
		c.cron = cron.New()
		if _, err := c.cron.AddFunc(c.cfg.CleanupCron, func() {
			if _, err := c.runCleanup(); err != nil {
				log.Printf("cron cleanup sweep failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("parsing cleanup cron: %w", err)
		}
		c.cron.Start()
	}

	go func() {
		<-ctx.Done()
		if c.cron != nil {
			c.cron.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.server.Shutdown(shutdownCtx)
	}()

	log.Printf("coordinator listening on %s", c.cfg.Addr)
	err := c.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case orcherr.Is(err, orcherr.KindValidation):
		status = http.StatusUnprocessableEntity
	case orcherr.Is(err, orcherr.KindConflict):
		status = http.StatusConflict
	case orcherr.Is(err, orcherr.KindNotFound):
		status = http.StatusNotFound
	case orcherr.Is(err, orcherr.KindPrecondition):
		status = http.StatusUnprocessableEntity
	case orcherr.Is(err, orcherr.KindTransient):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
