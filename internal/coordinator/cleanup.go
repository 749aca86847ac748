package coordinator

import "github.com/anthropics/task-orchestrator/internal/reaper"

// runCleanup delegates to the reaper and, if it reset any tasks,
// re-evaluates the active phase in case reaping just un-exhausted it
// (a reset task going back to pending keeps the phase open, so this is
// actually a no-op on phase state today, but OnTaskTerminal is cheap
// and keeps behavior correct if reaping ever reaps *terminal* rows).
func (c *Coordinator) runCleanup() (int, error) {
	r := reaper.New(c.store, c.cfg.AgentTimeout)
	n, err := r.Sweep()
	if n > 0 {
		if serr := c.sched.OnTaskTerminal(); serr != nil && err == nil {
			err = serr
		}
	}
	return n, err
}
