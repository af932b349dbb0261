// Package supervisor owns the lifecycle of the lookup serving process.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// stopTimeout is how long a terminating child gets before it is killed.
const stopTimeout = 10 * time.Second

// Supervisor guarantees at most one serving process runs at a time.
// It observes child exit but never respawns on its own; respawn only
// happens on the next scheduler decision.
type Supervisor struct {
	binary string
	port   int
	logger *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	running bool
}

// New creates a supervisor that spawns binary with the lookup server
// port passed through the environment.
func New(binary string, port int, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		binary: binary,
		port:   port,
		logger: logger,
	}
}

// Running reports whether a serving process is currently live.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// EnsureRunning makes sure a serving process is live. When restart is
// true any existing process is terminated first, so two servers are
// never bound to the same port. With restart false and a live child,
// this is a no-op.
func (s *Supervisor) EnsureRunning(restart bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		if !restart {
			return nil
		}
		if err := s.stopLocked(); err != nil {
			return err
		}
	}

	return s.spawnLocked()
}

// Stop terminates the serving process if one is live.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	return s.stopLocked()
}

// spawnLocked starts a fresh serving process. Caller holds s.mu.
func (s *Supervisor) spawnLocked() error {
	cmd := exec.Command(s.binary)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), fmt.Sprintf("ANILYZER_SERVER_PORT=%d", s.port))

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start serving process: %w", err)
	}

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.running = true

	s.logger.Info("serving process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("port", s.port))

	go s.wait(cmd, done)

	return nil
}

// stopLocked terminates the current child and waits for it to exit.
// Caller holds s.mu.
func (s *Supervisor) stopLocked() error {
	cmd := s.cmd
	done := s.done

	s.logger.Info("terminating serving process", zap.Int("pid", cmd.Process.Pid))

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process may already be gone; the waiter settles the state.
		s.logger.Warn("failed to signal serving process", zap.Error(err))
	}

	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.logger.Warn("serving process did not exit in time, killing",
			zap.Int("pid", cmd.Process.Pid))
		if err := cmd.Process.Kill(); err != nil {
			s.logger.Warn("failed to kill serving process", zap.Error(err))
		}
		<-done
	}

	return nil
}

// wait observes the child's exit and records that the handle is dead.
func (s *Supervisor) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	s.mu.Lock()
	if s.cmd == cmd {
		s.running = false
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("serving process exited", zap.Error(err))
		return
	}
	s.logger.Info("serving process exited cleanly")
}
