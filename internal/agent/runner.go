// Package agent manages the external agent processes that actually speak the
// messaging protocol. One process is launched per account session; each
// connects back to the coordinator over the agent websocket channel.
package agent

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Runner spawns and terminates agent subprocesses. With no command configured
// it degrades to a no-op, for deployments where agents are started out of
// band (and for tests).
type Runner struct {
	command string
	args    []string
	workDir string
	authDir string

	mu      sync.Mutex
	running map[string]*exec.Cmd
}

func NewRunner(command string, args []string, workDir, authDir string) *Runner {
	return &Runner{
		command: strings.TrimSpace(command),
		args:    args,
		workDir: workDir,
		authDir: authDir,
		running: make(map[string]*exec.Cmd),
	}
}

// Managed reports whether this runner actually launches processes.
func (r *Runner) Managed() bool {
	return r.command != ""
}

// Start launches the agent process for the session. The session id is passed
// as the final argument so the agent knows which channel to dial back on.
func (r *Runner) Start(sessionID string) error {
	if !r.Managed() {
		return nil
	}

	r.mu.Lock()
	if _, exists := r.running[sessionID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("agent for session %s already running", sessionID)
	}
	r.mu.Unlock()

	args := append(append([]string(nil), r.args...), sessionID)
	cmd := exec.Command(r.command, args...)
	cmd.Dir = r.workDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent process: %w", err)
	}

	r.mu.Lock()
	r.running[sessionID] = cmd
	r.mu.Unlock()

	// Reap the process so it never lingers as a zombie.
	go func() {
		err := cmd.Wait()
		r.mu.Lock()
		if r.running[sessionID] == cmd {
			delete(r.running, sessionID)
		}
		r.mu.Unlock()
		if err != nil {
			slog.Debug("agent process exited", "session_id", sessionID, "error", err)
		}
	}()

	slog.Info("agent process started", "session_id", sessionID, "pid", cmd.Process.Pid)
	return nil
}

// Stop terminates the session's agent process. Unknown sessions are ignored.
func (r *Runner) Stop(sessionID string) {
	r.mu.Lock()
	cmd := r.running[sessionID]
	delete(r.running, sessionID)
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		slog.Debug("agent process kill failed", "session_id", sessionID, "error", err)
	}
}

// StopAll terminates every running agent process, for shutdown.
func (r *Runner) StopAll() {
	r.mu.Lock()
	cmds := make(map[string]*exec.Cmd, len(r.running))
	for id, cmd := range r.running {
		cmds[id] = cmd
	}
	r.running = make(map[string]*exec.Cmd)
	r.mu.Unlock()

	for id, cmd := range cmds {
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				slog.Debug("agent process kill failed", "session_id", id, "error", err)
			}
		}
	}
}

// CleanupSession removes the persisted login state for a removed session. A
// missing directory is fine; the agent may never have authenticated.
func (r *Runner) CleanupSession(sessionID string) {
	if strings.TrimSpace(r.authDir) == "" {
		return
	}
	dir := filepath.Join(r.authDir, "session-"+sessionID)
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("session auth dir cleanup failed", "session_id", sessionID, "dir", dir, "error", err)
	}
}
