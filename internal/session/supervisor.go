package session

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"claude-auto/internal/console"
	"claude-auto/internal/logger"
	"claude-auto/internal/patterns"
)

// Config holds the supervisor's timing knobs.
type Config struct {
	PollInterval   time.Duration
	Debounce       time.Duration
	DrainGrace     time.Duration
	TerminateGrace time.Duration
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:   10 * time.Millisecond,
		Debounce:       100 * time.Millisecond,
		DrainGrace:     time.Second,
		TerminateGrace: 3 * time.Second,
	}
}

// Supervisor runs one child at a time, answering its prompts until it exits
// or the context is cancelled.
type Supervisor struct {
	table    *patterns.Table
	console  *console.Console
	log      *logger.Logger
	cfg      Config
	observer Observer
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithObserver reports session activity to o.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		if o != nil {
			s.observer = o
		}
	}
}

// New creates a Supervisor. A nil log discards log output.
func New(table *patterns.Table, con *console.Console, log *logger.Logger, cfg Config, opts ...Option) *Supervisor {
	if log == nil {
		log = logger.Nop()
	}
	s := &Supervisor{
		table:    table,
		console:  con,
		log:      log,
		cfg:      cfg,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run spawns spec and supervises it. It returns the child's exit code, or 1
// if the child could not be started or ctx was cancelled first. Only a
// spawn failure is returned as an error; cancellation is not one.
func (s *Supervisor) Run(ctx context.Context, spec Spec) (int, error) {
	child, err := Spawn(spec)
	if err != nil {
		s.console.Errorf("failed to start %s: %v", spec.Path, err)
		return 1, err
	}

	log := s.log.WithSessionID(child.ID)
	log.Info("session started",
		zap.Int("pid", child.PID()),
		zap.String("command", spec.Path),
		zap.Strings("args", spec.Args))
	s.observer.SessionStarted(child.Info())
	s.observer.StateChanged(child.ID, StateRunning)

	q := NewQueue()
	var pumps errgroup.Group
	pumps.Go(func() error {
		Pump(child.Stdout(), StreamStdout, child.ID, s.console, q, log)
		return nil
	})
	pumps.Go(func() error {
		Pump(child.Stderr(), StreamStderr, child.ID, s.console, q, log)
		return nil
	})
	pumpsDone := make(chan struct{})
	go func() {
		_ = pumps.Wait()
		close(pumpsDone)
	}()

	cancelled := s.loop(ctx, child, q, log)

	if cancelled {
		log.Info("session cancelled, terminating child")
		s.terminate(child, log)
	}

	s.observer.StateChanged(child.ID, StateDraining)
	s.drain(child, q, pumpsDone, log)

	code := child.ExitCode()
	if cancelled {
		code = 1
	}
	s.observer.StateChanged(child.ID, StateTerminated)
	s.observer.Exited(child.ID, code, cancelled)
	log.Info("session terminated", zap.Int("exit_code", code), zap.Bool("cancelled", cancelled))

	return code, nil
}

// loop runs a step on every tick and whenever a pump queues output, until
// the child exits or ctx is done. The tick lets a held buffer be answered
// once the debounce window closes. It reports whether the session was
// cancelled.
func (s *Supervisor) loop(ctx context.Context, child *Child, q *Queue, log *logger.Logger) bool {
	responder := NewResponder(s.table, child, s.cfg.Debounce)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
		case <-q.Ready():
		}

		s.step(child.ID, responder, q.Drain(), time.Now(), log)

		if child.Exited() {
			return false
		}
	}
}

func (s *Supervisor) step(sessionID string, r *Responder, events []OutputEvent, now time.Time, log *logger.Logger) {
	for _, e := range events {
		s.observer.Output(e)
	}

	resp, err := r.Step(events, now)
	if err != nil {
		log.Warn("stdin write failed, no further responses will be sent", zap.Error(err))
		s.console.Errorf("cannot answer child: %v", err)
		return
	}
	if resp == nil {
		return
	}

	ev := ResponseEvent{
		SessionID: sessionID,
		Response:  resp.Text,
		Timestamp: resp.At.UTC(),
	}
	if resp.Matched {
		ev.Pattern = resp.Entry.Pattern()
		ev.Source = string(resp.Entry.Source)
	}
	log.Debug("response sent",
		zap.String("response", resp.Text),
		zap.String("pattern", ev.Pattern),
		zap.String("source", ev.Source))
	s.console.Notice("auto-response: %s", console.Response(resp.Text))
	s.observer.Responded(ev)
}

// terminate sends SIGTERM and escalates to SIGKILL after the terminate
// grace. It waits at most one more grace period after the kill.
func (s *Supervisor) terminate(child *Child, log *logger.Logger) {
	if err := child.Terminate(); err != nil {
		log.Warn("terminate failed", zap.Error(err))
	}
	select {
	case <-child.Done():
		return
	case <-time.After(s.cfg.TerminateGrace):
	}

	log.Warn("child ignored SIGTERM, killing", zap.Duration("grace", s.cfg.TerminateGrace))
	if err := child.Kill(); err != nil {
		log.Warn("kill failed", zap.Error(err))
	}
	select {
	case <-child.Done():
	case <-time.After(s.cfg.TerminateGrace):
		log.Error("child did not exit after SIGKILL", zap.Int("pid", child.PID()))
	}
}

// drain gives the pumps the drain grace to finish, then closes the read
// ends regardless and forwards whatever reached the queue to the observer.
func (s *Supervisor) drain(child *Child, q *Queue, pumpsDone <-chan struct{}, log *logger.Logger) {
	select {
	case <-pumpsDone:
	case <-time.After(s.cfg.DrainGrace):
		log.Debug("output pumps still running after drain grace, closing streams",
			zap.Duration("grace", s.cfg.DrainGrace))
	}
	child.CloseOutputs()

	for _, e := range q.Drain() {
		s.observer.Output(e)
	}
}
