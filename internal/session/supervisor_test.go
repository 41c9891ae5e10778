package session

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-auto/internal/config"
	"claude-auto/internal/console"
	"claude-auto/internal/patterns"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordingObserver struct {
	mu        sync.Mutex
	started   []Info
	output    []OutputEvent
	responses []ResponseEvent
	states    []State
	exitCode  int
	cancelled bool
	exited    bool
}

func (o *recordingObserver) SessionStarted(info Info) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, info)
}

func (o *recordingObserver) Output(e OutputEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.output = append(o.output, e)
}

func (o *recordingObserver) Responded(e ResponseEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses = append(o.responses, e)
}

func (o *recordingObserver) StateChanged(_ string, s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) Exited(_ string, code int, cancelled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exited = true
	o.exitCode = code
	o.cancelled = cancelled
}

type harness struct {
	sup     *Supervisor
	obs     *recordingObserver
	out     *syncBuffer
	notices *syncBuffer
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		obs:     &recordingObserver{},
		out:     &syncBuffer{},
		notices: &syncBuffer{},
	}
	con := console.New(h.out, h.notices)
	table := patterns.NewTable(config.DefaultSettings(), nil)
	h.sup = New(table, con, nil, cfg, WithObserver(h.obs))
	return h
}

func fastConfig() Config {
	return Config{
		PollInterval:   5 * time.Millisecond,
		Debounce:       20 * time.Millisecond,
		DrainGrace:     500 * time.Millisecond,
		TerminateGrace: time.Second,
	}
}

func TestRun_ChildExitsCleanlyWithoutPrompt(t *testing.T) {
	h := newHarness(t, fastConfig())

	code, err := h.sup.Run(context.Background(), shSpec("exit 0"))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Empty(t, h.obs.responses)
	assert.Len(t, h.obs.started, 1)
	assert.True(t, h.obs.exited)
	assert.False(t, h.obs.cancelled)
	assert.Equal(t, []State{StateRunning, StateDraining, StateTerminated}, h.obs.states)
}

func TestRun_PropagatesExitCode(t *testing.T) {
	h := newHarness(t, fastConfig())

	code, err := h.sup.Run(context.Background(), shSpec("exit 7"))
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	assert.Equal(t, 7, h.obs.exitCode)
}

func TestRun_AnswersPrompt(t *testing.T) {
	h := newHarness(t, fastConfig())

	script := `printf 'Do you want to proceed? (y/n)\n'; read a; echo "got:$a"`
	code, err := h.sup.Run(context.Background(), shSpec(script))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Contains(t, h.out.String(), "got:yes")
	require.NotEmpty(t, h.obs.responses)
	first := h.obs.responses[0]
	assert.Equal(t, "yes", first.Response)
	assert.Equal(t, `Do you want to proceed\?`, first.Pattern)
	assert.Equal(t, string(patterns.SourceBuiltin), first.Source)
	assert.Contains(t, h.notices.String(), "auto-response: yes")
}

func TestRun_AnswersOnPushBeforeTick(t *testing.T) {
	cfg := fastConfig()
	cfg.PollInterval = 2 * time.Second
	h := newHarness(t, cfg)

	start := time.Now()
	script := `printf 'Do you want to proceed? (y/n)\n'; read a; echo "got:$a"`
	code, err := h.sup.Run(context.Background(), shSpec(script))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Contains(t, h.out.String(), "got:yes")
	require.NotEmpty(t, h.obs.responses)
	assert.Less(t, h.obs.responses[0].Timestamp.Sub(start), time.Second)
}

func TestRun_EchoesBothStreams(t *testing.T) {
	h := newHarness(t, fastConfig())

	code, err := h.sup.Run(context.Background(), shSpec(`echo out; echo err >&2; printf tail`))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	out := h.out.String()
	assert.Contains(t, out, "out\n")
	assert.Contains(t, out, "err\n")
	assert.Contains(t, out, "tail")

	streams := map[Stream]bool{}
	for _, e := range h.obs.output {
		streams[e.Stream] = true
	}
	assert.True(t, streams[StreamStdout])
	assert.True(t, streams[StreamStderr])
}

func TestRun_CancelTerminatesChild(t *testing.T) {
	cfg := fastConfig()
	h := newHarness(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	code, err := h.sup.Run(ctx, shSpec("exec sleep 30"))
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Less(t, time.Since(start), 100*time.Millisecond+cfg.TerminateGrace+cfg.DrainGrace+time.Second)
	assert.True(t, h.obs.cancelled)
	assert.Equal(t, 1, h.obs.exitCode)
}

func TestRun_CancelEscalatesToKill(t *testing.T) {
	cfg := fastConfig()
	cfg.TerminateGrace = 200 * time.Millisecond
	h := newHarness(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	script := `trap '' TERM; echo ready; while true; do sleep 0.05; done`
	start := time.Now()
	code, err := h.sup.Run(ctx, shSpec(script))
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_HungPumpDoesNotBlockExit(t *testing.T) {
	cfg := fastConfig()
	cfg.DrainGrace = 100 * time.Millisecond
	h := newHarness(t, cfg)

	// The background sleep inherits stdout and keeps it open after sh exits.
	start := time.Now()
	code, err := h.sup.Run(context.Background(), shSpec("sleep 5 & exit 0"))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRun_StdinFailureStopsResponses(t *testing.T) {
	h := newHarness(t, fastConfig())

	script := `exec 0<&-; echo "Are you sure"; sleep 0.2; echo "Continue?"; sleep 0.2`
	code, err := h.sup.Run(context.Background(), shSpec(script))
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Empty(t, h.obs.responses)
	assert.Contains(t, h.notices.String(), "cannot answer child")
	assert.Equal(t, 1, strings.Count(h.notices.String(), "cannot answer child"))
}

func TestRun_SpawnFailure(t *testing.T) {
	h := newHarness(t, fastConfig())

	code, err := h.sup.Run(context.Background(), Spec{Path: "definitely-not-a-real-binary-xyz"})
	assert.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Empty(t, h.obs.started)
	assert.Contains(t, h.notices.String(), "failed to start")
}
