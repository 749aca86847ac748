// Package agent implements the agent-side runtime: registration,
// heartbeating, claiming tasks, preparing a workspace, waiting for the
// implementer's commit, running local checks, and publishing the
// result — all against the coordinator's HTTP RPC surface.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

// Backoff constants for coordinator RPC retries, shaped after the
// worker-to-coordinator reconnect policy: base 1s, factor 2, capped.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2
	maxAttempts    = 5
)

func calculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// Client talks to the coordinator's JSON RPC surface.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) post(path string, body, out interface{}) (int, error) {
	var attempt int
	var lastErr error
	for attempt = 0; attempt < maxAttempts; attempt++ {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		resp, err := c.HTTP.Post(c.BaseURL+path, "application/json", bytes.NewReader(data))
		if err != nil {
			lastErr = err
			time.Sleep(calculateBackoff(attempt))
			continue
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusServiceUnavailable {
			lastErr = fmt.Errorf("coordinator unavailable (503)")
			time.Sleep(calculateBackoff(attempt))
			continue
		}

		if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, err
			}
		}
		return resp.StatusCode, nil
	}
	return 0, fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) Register(agentID string) error {
	_, err := c.post("/v1/agents/register", map[string]string{"agent_id": agentID}, nil)
	return err
}

func (c *Client) Heartbeat(agentID string) error {
	_, err := c.post("/v1/agents/heartbeat", map[string]string{"agent_id": agentID}, nil)
	return err
}

// Claim asks the coordinator for a task. A 409 or 422 both mean "no
// task right now" to the caller; only the status code distinguishes
// claim contention (retry soon) from an exhausted backlog (back off
// longer, there's nothing to race for).
func (c *Client) Claim(agentID string) (*domain.Task, int, error) {
	var resp struct {
		Task *domain.Task `json:"task"`
	}
	status, err := c.post("/v1/tasks/claim", map[string]string{"agent_id": agentID}, &resp)
	if err != nil {
		return nil, status, err
	}
	if status != http.StatusOK {
		return nil, status, nil
	}
	return resp.Task, status, nil
}

func (c *Client) Complete(agentID, taskID string, status domain.TaskStatus, reason, prHandle string) error {
	_, err := c.post("/v1/tasks/complete", map[string]string{
		"agent_id": agentID, "task_id": taskID, "status": string(status), "reason": reason, "pr_handle": prHandle,
	}, nil)
	return err
}

// Subscribe opens the coordinator's notification stream for agentID and
// returns the decoded messages on a channel. The connection runs until
// ctx is canceled or the coordinator closes it; callers should redial
// on error (the coordinator's durable pending queue means a dropped
// connection never loses an event, just delays delivery).
func (c *Client) Subscribe(ctx context.Context, agentID string) (<-chan *domain.Notification, error) {
	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) + "/v1/notifications/stream?agent_id=" + agentID
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.Notification, 32)
	go func() {
		defer close(out)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		for {
			var n domain.Notification
			if err := conn.ReadJSON(&n); err != nil {
				return
			}
			select {
			case out <- &n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
