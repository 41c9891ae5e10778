package session

import (
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shSpec(script string) Spec {
	return Spec{Path: "sh", Args: []string{"-c", script}}
}

func waitDone(t *testing.T, c *Child) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit")
	}
}

func TestNewSpec_PrefixesFlags(t *testing.T) {
	env := map[string]string{"A": "1"}
	spec, err := NewSpec("claude", []string{"fix the build", "--verbose"}, env)
	require.NoError(t, err)

	assert.Equal(t, "claude", spec.Path)
	assert.Equal(t, []string{FlagSkipPermissions, FlagNonInteractive, "fix the build", "--verbose"}, spec.Args)
	assert.Equal(t, env, spec.Env)
}

func TestNewSpec_RejectsEmptyArgs(t *testing.T) {
	_, err := NewSpec("claude", nil, nil)
	assert.ErrorIs(t, err, ErrNoArgs)

	_, err = NewSpec("", []string{"x"}, nil)
	assert.Error(t, err)
}

func TestAutomationEnv(t *testing.T) {
	env := AutomationEnv()
	assert.Len(t, env, 10)
	assert.Equal(t, "bypassPermissions", env["CLAUDE_PERMISSIONS_MODE"])
	for k, v := range env {
		if k != "CLAUDE_PERMISSIONS_MODE" {
			assert.Equal(t, "true", v, k)
		}
	}

	env["CLAUDE_AUTO_APPROVE"] = "false"
	assert.Equal(t, "true", AutomationEnv()["CLAUDE_AUTO_APPROVE"])
}

func TestSpawn_PassesEnvWithoutMutatingProcess(t *testing.T) {
	const key = "CLAUDE_AUTO_TEST_MARKER"
	spec := shSpec("printf '%s' \"$" + key + "\"")
	spec.Env = map[string]string{key: "present"}

	c, err := Spawn(spec)
	require.NoError(t, err)

	out, err := io.ReadAll(c.Stdout())
	require.NoError(t, err)
	waitDone(t, c)

	assert.Equal(t, "present", string(out))
	_, set := os.LookupEnv(key)
	assert.False(t, set)
}

func TestSpawn_MissingBinary(t *testing.T) {
	_, err := Spawn(Spec{Path: "definitely-not-a-real-binary-xyz"})
	assert.Error(t, err)
}

func TestChild_ExitCode(t *testing.T) {
	c, err := Spawn(shSpec("exit 3"))
	require.NoError(t, err)
	waitDone(t, c)

	assert.Equal(t, 3, c.ExitCode())
	assert.True(t, c.Exited())
}

func TestChild_ExitCodePendingWhileRunning(t *testing.T) {
	c, err := Spawn(shSpec("exec sleep 30"))
	require.NoError(t, err)
	defer c.CloseOutputs()

	assert.Equal(t, -1, c.ExitCode())
	assert.False(t, c.Exited())
	assert.Positive(t, c.PID())

	require.NoError(t, c.Kill())
	waitDone(t, c)
	assert.Equal(t, 128+9, c.ExitCode())
}

func TestChild_TerminateSendsSIGTERM(t *testing.T) {
	c, err := Spawn(shSpec("exec sleep 30"))
	require.NoError(t, err)
	defer c.CloseOutputs()

	require.NoError(t, c.Terminate())
	waitDone(t, c)
	assert.Equal(t, 128+15, c.ExitCode())

	// Signalling an exited child is a no-op.
	assert.NoError(t, c.Terminate())
}

func TestChild_WriteLine(t *testing.T) {
	c, err := Spawn(shSpec("read a; echo \"got:$a\""))
	require.NoError(t, err)

	require.NoError(t, c.WriteLine("yes"))
	out, err := io.ReadAll(c.Stdout())
	require.NoError(t, err)
	waitDone(t, c)

	assert.Equal(t, "got:yes", strings.TrimSpace(string(out)))
	assert.Error(t, c.WriteLine("late"), "stdin is closed after exit")
}

func TestChild_Info(t *testing.T) {
	c, err := Spawn(shSpec("exit 0"))
	require.NoError(t, err)
	waitDone(t, c)

	info := c.Info()
	assert.Equal(t, c.ID, info.ID)
	assert.Equal(t, "sh", info.Command)
	assert.Equal(t, []string{"-c", "exit 0"}, info.Args)
	assert.NotEmpty(t, info.ID)
}
