// Package streamengine runs the agent SDK CLI as a subprocess speaking
// newline-delimited JSON on stdin/stdout and adapts it to agent.Engine.
package streamengine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/banterhq/banter/internal/agent"
	"github.com/banterhq/banter/internal/wire"
	"github.com/banterhq/banter/pkg/logger"
)

const (
	// readyTimeout bounds how long Start waits for the runner's ready line.
	readyTimeout = 15 * time.Second

	// permissionTimeout bounds how long a tool permission prompt may stay
	// unresolved before the runner receives a denial, so an abandoned window
	// cannot stall the upstream run forever.
	permissionTimeout = 5 * time.Minute
)

// controlLine is a non-message runner line (ready, error, aborted,
// control_request) or an outbound control frame.
type controlLine struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// userLine delivers a user message to the runner.
type userLine struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
	AtMs int64  `json:"atMs,omitempty"`
}

// controlResponse answers a control_request.
type controlResponse struct {
	Behavior     string          `json:"behavior"` // "allow" or "deny"
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// Engine implements agent.Engine on top of the runner subprocess.
type Engine struct {
	command []string
	debug   bool

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdout      io.ReadCloser
	stderr      io.ReadCloser
	stdinWriter *json.Encoder
	running     bool

	requester agent.PermissionRequester

	events chan agent.Event
	errs   chan error
	ready  chan struct{}
	stopCh chan struct{}
	closed sync.Once

	waitOnce sync.Once
	waitErr  error
	waitCh   chan struct{}
}

// New returns a stream engine that will spawn the given runner command.
func New(command []string, requester agent.PermissionRequester, debug bool) *Engine {
	return &Engine{
		command:   append([]string(nil), command...),
		debug:     debug,
		requester: requester,
		events:    make(chan agent.Event, 128),
		errs:      make(chan error, 10),
		ready:     make(chan struct{}),
		stopCh:    make(chan struct{}),
		waitCh:    make(chan struct{}),
	}
}

// Events implements agent.Engine.
func (e *Engine) Events() <-chan agent.Event {
	return e.events
}

// Start implements agent.Engine.
func (e *Engine) Start(ctx context.Context, spec agent.StartSpec) error {
	if len(e.command) == 0 {
		return fmt.Errorf("runner command not configured")
	}

	args := append([]string(nil), e.command[1:]...)
	if spec.WorkDir != "" {
		args = append(args, "--cwd", spec.WorkDir)
	}
	if token := strings.TrimSpace(spec.ResumeToken); token != "" {
		args = append(args, "--resume", token)
	}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	if spec.PermissionMode != "" {
		args = append(args, "--permission-mode", spec.PermissionMode)
	}

	cmd := exec.Command(e.command[0], args...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start runner: %w", err)
	}

	e.mu.Lock()
	e.cmd = cmd
	e.stdin = stdin
	e.stdout = stdout
	e.stderr = stderr
	e.stdinWriter = json.NewEncoder(stdin)
	e.running = true
	e.mu.Unlock()

	go e.readLines()
	go e.readStderr()

	select {
	case <-e.ready:
		if e.debug {
			logger.Debugf("[stream] runner ready")
		}
	case err := <-e.errs:
		_ = e.kill()
		return fmt.Errorf("runner error: %w", err)
	case <-time.After(readyTimeout):
		_ = e.kill()
		return fmt.Errorf("runner ready timeout")
	case <-ctx.Done():
		_ = e.kill()
		return ctx.Err()
	case <-e.stopCh:
		return fmt.Errorf("runner stopped")
	}

	e.tryEmit(agent.EvReady{})
	return nil
}

// Send implements agent.Engine.
func (e *Engine) Send(ctx context.Context, msg agent.UserMessage) error {
	_ = ctx
	return e.writeLine(&userLine{
		Type: "user",
		ID:   msg.LocalID,
		Text: msg.Text,
		AtMs: msg.AtMs,
	})
}

// Abort implements agent.Engine.
func (e *Engine) Abort(ctx context.Context) error {
	_ = ctx
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return nil
	}
	return e.writeLine(&controlLine{Type: "abort"})
}

// Close implements agent.Engine.
func (e *Engine) Close(ctx context.Context) error {
	_ = ctx
	return e.kill()
}

// Wait implements agent.Engine.
func (e *Engine) Wait() error {
	e.waitOnce.Do(func() {
		defer close(e.waitCh)

		e.mu.Lock()
		cmd := e.cmd
		e.mu.Unlock()
		if cmd == nil || cmd.Process == nil {
			e.waitErr = fmt.Errorf("runner not started")
			return
		}
		e.waitErr = cmd.Wait()
		e.tryEmit(agent.EvExited{Err: e.waitErr})
	})
	<-e.waitCh
	return e.waitErr
}

// readLines reads JSON lines from the runner's stdout.
func (e *Engine) readLines() {
	e.mu.Lock()
	stdout := e.stdout
	e.mu.Unlock()
	if stdout == nil {
		return
	}

	scanner := bufio.NewScanner(stdout)
	// Large tool outputs can arrive as a single line.
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-e.stopCh:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e.handleLine(line)
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-e.stopCh:
			return
		case e.errs <- err:
		default:
		}
		return
	}

	// EOF without an explicit ready or error line would deadlock Start.
	select {
	case <-e.stopCh:
	case e.errs <- io.EOF:
	default:
	}
}

func (e *Engine) readStderr() {
	e.mu.Lock()
	stderr := e.stderr
	e.mu.Unlock()
	if stderr == nil {
		return
	}

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if e.debug {
			logger.Debugf("[runner stderr] %s", scanner.Text())
		}
	}
}

func (e *Engine) handleLine(line []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		if e.debug {
			logger.Debugf("[stream] invalid runner line: %s (error: %v)", line, err)
		}
		return
	}

	switch probe.Type {
	case "ready":
		select {
		case <-e.ready:
		default:
			close(e.ready)
		}

	case "error":
		var ctl controlLine
		_ = json.Unmarshal(line, &ctl)
		if e.debug {
			logger.Debugf("[stream] runner error: %s", ctl.Error)
		}
		select {
		case e.errs <- fmt.Errorf("runner error: %s", ctl.Error):
		default:
		}

	case "aborted":
		e.tryEmit(agent.EvThinking{Thinking: false, AtMs: time.Now().UnixMilli()})

	case "control_request":
		var ctl controlLine
		if err := json.Unmarshal(line, &ctl); err != nil {
			if e.debug {
				logger.Debugf("[stream] invalid control_request: %v", err)
			}
			return
		}
		go e.handleControlRequest(&ctl)

	case wire.MessageInit, wire.MessageAssistant, wire.MessageReasoning,
		wire.MessageToolCall, wire.MessageToolResult, wire.MessageResult:
		msg, err := wire.ParseMessage(line)
		if err != nil {
			if e.debug {
				logger.Debugf("[stream] invalid agent message: %v", err)
			}
			return
		}
		if msg.Type == wire.MessageInit && msg.ConversationID != "" {
			e.tryEmit(agent.EvConversation{ConversationID: msg.ConversationID})
		}
		e.tryEmit(agent.EvMessage{Message: msg})
		if msg.Type == wire.MessageResult {
			e.tryEmit(agent.EvThinking{Thinking: false, AtMs: time.Now().UnixMilli()})
		}

	default:
		if e.debug {
			logger.Debugf("[stream] ignoring runner line type %q", probe.Type)
		}
	}
}

// handleControlRequest routes a tool permission prompt through the requester
// and answers the runner exactly once.
func (e *Engine) handleControlRequest(ctl *controlLine) {
	var req wire.PermissionRequest
	if err := json.Unmarshal(ctl.Request, &req); err != nil || req.ToolUseID == "" {
		e.sendControlResponse(ctl.RequestID, &controlResponse{
			Behavior: "deny",
			Message:  "invalid permission request",
		})
		return
	}

	if e.requester == nil {
		// No requester installed: deny rather than run tools unattended.
		e.sendControlResponse(ctl.RequestID, &controlResponse{
			Behavior: "deny",
			Message:  "permission requester not configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), permissionTimeout)
	defer cancel()

	decision, err := e.requester.AwaitPermission(ctx, req)
	if err != nil {
		e.sendControlResponse(ctl.RequestID, &controlResponse{
			Behavior: "deny",
			Message:  err.Error(),
		})
		return
	}

	resp := &controlResponse{Behavior: "deny", Message: decision.Message}
	if decision.Allow {
		resp.Behavior = "allow"
		resp.Message = ""
		// The runner expects allow responses to echo the (possibly updated)
		// tool input.
		if len(decision.UpdatedInput) > 0 {
			resp.UpdatedInput = append(json.RawMessage(nil), decision.UpdatedInput...)
		} else {
			resp.UpdatedInput = append(json.RawMessage(nil), req.Input...)
		}
	}
	e.sendControlResponse(ctl.RequestID, resp)
}

func (e *Engine) sendControlResponse(requestID string, resp *controlResponse) {
	raw, _ := json.Marshal(resp)
	if err := e.writeLine(&controlLine{
		Type:      "control_response",
		RequestID: requestID,
		Response:  raw,
	}); err != nil && e.debug {
		logger.Debugf("[stream] control response write error: %v", err)
	}
}

func (e *Engine) writeLine(msg any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.stdinWriter == nil {
		return fmt.Errorf("runner not running")
	}
	return e.stdinWriter.Encode(msg)
}

func (e *Engine) kill() error {
	e.mu.Lock()
	e.running = false
	cmd := e.cmd
	stdin := e.stdin
	e.mu.Unlock()

	e.closed.Do(func() { close(e.stopCh) })

	if stdin != nil {
		stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	// Best-effort: interrupt first so the runner can flush and exit cleanly.
	_ = cmd.Process.Signal(os.Interrupt)
	time.Sleep(200 * time.Millisecond)
	return cmd.Process.Kill()
}

func (e *Engine) tryEmit(ev agent.Event) {
	select {
	case <-e.stopCh:
		return
	default:
	}

	select {
	case e.events <- ev:
	default:
		if e.debug {
			logger.Debugf("[stream] event channel full, dropping %T", ev)
		}
	}
}
