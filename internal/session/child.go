package session

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Flags always passed to the child ahead of the operator's arguments.
const (
	FlagSkipPermissions = "--dangerously-skip-permissions"
	FlagNonInteractive  = "--non-interactive"
)

// ErrNoArgs is returned when there is nothing to forward to the child.
var ErrNoArgs = errors.New("no arguments to forward")

// AutomationEnv returns the variables that tell the child to run without
// asking. A fresh map is returned on each call.
func AutomationEnv() map[string]string {
	env := map[string]string{
		"CLAUDE_PERMISSIONS_MODE": "bypassPermissions",
	}
	for _, k := range []string{
		"CLAUDE_AUTO_APPROVE",
		"CLAUDE_SKIP_CONFIRMATION",
		"CLAUDE_NON_INTERACTIVE",
		"CLAUDE_BATCH_MODE",
		"CLAUDE_YES_TO_ALL",
		"CLAUDE_DANGEROUSLY_SKIP_PERMISSIONS",
		"CLAUDE_AUTO_EXECUTE_COMMANDS",
		"CLAUDE_AUTO_SAVE_FILES",
		"CLAUDE_SKIP_EDITOR_PROMPTS",
	} {
		env[k] = "true"
	}
	return env
}

// Spec describes the child to start.
type Spec struct {
	Path string
	Args []string
	Env  map[string]string // added on top of os.Environ()
	Dir  string
}

// NewSpec builds the invocation of binary with the fixed prefix flags
// followed by userArgs, verbatim.
func NewSpec(binary string, userArgs []string, env map[string]string) (Spec, error) {
	if len(userArgs) == 0 {
		return Spec{}, ErrNoArgs
	}
	if binary == "" {
		return Spec{}, errors.New("child binary not set")
	}
	args := make([]string, 0, len(userArgs)+2)
	args = append(args, FlagSkipPermissions, FlagNonInteractive)
	args = append(args, userArgs...)
	return Spec{Path: binary, Args: args, Env: env}, nil
}

// environ merges s.Env into the current environment without
// touching the process-wide one. Keys are applied in sorted order so the
// result is deterministic.
func (s Spec) environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}

// stdinWriter serializes writes to the child's stdin.
type stdinWriter struct {
	mu     sync.Mutex
	writer *os.File
	closed bool
}

// WriteLine writes s followed by a newline as a single write.
func (sw *stdinWriter) WriteLine(s string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return errors.New("stdin pipe closed")
	}
	_, err := sw.writer.WriteString(s + "\n")
	return err
}

func (sw *stdinWriter) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.writer.Close()
		sw.closed = true
	}
}

// Child is a started process together with the parent's ends of its pipes.
type Child struct {
	ID        string
	Spec      Spec
	StartedAt time.Time

	cmd    *exec.Cmd
	stdin  *stdinWriter
	stdout *os.File
	stderr *os.File

	exitCode atomic.Int32
	done     chan struct{}
	closeOut sync.Once
}

// Spawn starts the process described by spec. The child's stdin, stdout and
// stderr are pipes; the parent keeps the write end of stdin and the read
// ends of the outputs.
func Spawn(spec Spec) (*Child, error) {
	path, err := exec.LookPath(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", spec.Path, err)
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW)
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.environ()
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, fmt.Errorf("spawn %s: %w", spec.Path, err)
	}

	// The child owns these ends now.
	closeAll(stdinR, stdoutW, stderrW)

	c := &Child{
		ID:        uuid.New().String(),
		Spec:      spec,
		StartedAt: time.Now().UTC(),
		cmd:       cmd,
		stdin:     &stdinWriter{writer: stdinW},
		stdout:    stdoutR,
		stderr:    stderrR,
		done:      make(chan struct{}),
	}
	c.exitCode.Store(-1)

	go c.waitForExit()

	return c, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}

// waitForExit records the exit code and closes the stdin pipe.
func (c *Child) waitForExit() {
	err := c.cmd.Wait()
	c.exitCode.Store(int32(exitStatus(err)))
	c.stdin.Close()
	close(c.done)
}

// exitStatus maps a Wait error to a shell-style exit code; a child killed
// by a signal reports 128 plus the signal number.
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}

// Info describes the child for observers.
func (c *Child) Info() Info {
	return Info{
		ID:        c.ID,
		PID:       c.PID(),
		Command:   c.Spec.Path,
		Args:      append([]string(nil), c.Spec.Args...),
		StartedAt: c.StartedAt,
	}
}

// PID returns the child's process id.
func (c *Child) PID() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Done is closed once the child has exited.
func (c *Child) Done() <-chan struct{} {
	return c.done
}

// Exited reports whether the child has exited.
func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code, or -1 while the child is running.
func (c *Child) ExitCode() int {
	return int(c.exitCode.Load())
}

// WriteLine sends one line to the child's stdin.
func (c *Child) WriteLine(s string) error {
	return c.stdin.WriteLine(s)
}

// Stdout returns the read end of the child's stdout.
func (c *Child) Stdout() *os.File { return c.stdout }

// Stderr returns the read end of the child's stderr.
func (c *Child) Stderr() *os.File { return c.stderr }

// Terminate asks the child to exit with SIGTERM.
func (c *Child) Terminate() error {
	return c.signal(syscall.SIGTERM)
}

// Kill sends SIGKILL.
func (c *Child) Kill() error {
	return c.signal(syscall.SIGKILL)
}

func (c *Child) signal(sig os.Signal) error {
	if c.Exited() {
		return nil
	}
	if err := c.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal %v: %w", sig, err)
	}
	return nil
}

// CloseOutputs closes the parent's read ends, unblocking any pump still
// reading. Safe to call more than once.
func (c *Child) CloseOutputs() {
	c.closeOut.Do(func() {
		c.stdout.Close()
		c.stderr.Close()
	})
}
