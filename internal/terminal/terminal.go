// Package terminal runs the agent CLI interactively under a pseudo-terminal
// so a window can attach a live terminal view to a conversation.
package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/banterhq/banter/pkg/logger"
)

// Session is one pty-backed interactive process.
type Session struct {
	conversationID string

	mu      sync.Mutex
	cmd     *exec.Cmd
	ptyFile *os.File
	stopCh  chan struct{}
	stopped sync.Once
}

// NewSession spawns command under a fresh pty. Output chunks are delivered to
// onOutput from a dedicated goroutine until the process exits or the session
// is closed.
func NewSession(conversationID string, command []string, workDir string, onOutput func(chunk []byte)) (*Session, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("terminal command not configured")
	}

	cmd := exec.Command(command[0], command[1:]...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.Env = os.Environ()

	ptyFile, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start terminal process: %w", err)
	}

	s := &Session{
		conversationID: conversationID,
		cmd:            cmd,
		ptyFile:        ptyFile,
		stopCh:         make(chan struct{}),
	}

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := ptyFile.Read(buf)
			if n > 0 && onOutput != nil {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				onOutput(chunk)
			}
			if err != nil {
				select {
				case <-s.stopCh:
				default:
					logger.Debugf("terminal %s: read ended: %v", conversationID, err)
				}
				return
			}
		}
	}()

	return s, nil
}

// Write injects input as if typed at the terminal.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptyFile == nil {
		return fmt.Errorf("pty not initialized")
	}
	_, err := s.ptyFile.Write(data)
	return err
}

// Resize adjusts the pty window size.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptyFile == nil {
		return fmt.Errorf("pty not initialized")
	}
	return pty.Setsize(s.ptyFile, &pty.Winsize{Cols: cols, Rows: rows})
}

// Wait blocks until the process exits.
func (s *Session) Wait() error {
	return s.cmd.Wait()
}

// Close terminates the process and releases the pty.
func (s *Session) Close() error {
	s.stopped.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ptyFile != nil {
		_ = s.ptyFile.Close()
		s.ptyFile = nil
	}
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}

	// Ctrl+C first so the process can restore terminal state.
	_ = s.cmd.Process.Signal(os.Interrupt)
	go func(cmd *exec.Cmd) {
		time.Sleep(500 * time.Millisecond)
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}(s.cmd)
	return nil
}

// Manager tracks at most one terminal session per conversation.
type Manager struct {
	command []string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a manager spawning the given interactive command.
func NewManager(command []string) *Manager {
	return &Manager{
		command:  append([]string(nil), command...),
		sessions: make(map[string]*Session),
	}
}

// Attach returns the existing session for a conversation or spawns a new one.
func (m *Manager) Attach(conversationID, workDir string, onOutput func(chunk []byte)) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[conversationID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	sess, err := NewSession(conversationID, m.command, workDir, onOutput)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[conversationID]; ok {
		// Lost the race, keep the first one.
		m.mu.Unlock()
		_ = sess.Close()
		return existing, nil
	}
	m.sessions[conversationID] = sess
	m.mu.Unlock()

	go func() {
		_ = sess.Wait()
		m.mu.Lock()
		if m.sessions[conversationID] == sess {
			delete(m.sessions, conversationID)
		}
		m.mu.Unlock()
	}()

	return sess, nil
}

// Write forwards input to the conversation's terminal. Unknown ids error.
func (m *Manager) Write(conversationID string, data []byte) error {
	m.mu.Lock()
	sess, ok := m.sessions[conversationID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no terminal attached for conversation %q", conversationID)
	}
	return sess.Write(data)
}

// Detach closes the conversation's terminal, if any.
func (m *Manager) Detach(conversationID string) {
	m.mu.Lock()
	sess, ok := m.sessions[conversationID]
	delete(m.sessions, conversationID)
	m.mu.Unlock()
	if ok {
		_ = sess.Close()
	}
}

// CloseAll shuts down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Close()
	}
}
