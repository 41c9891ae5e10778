// Package session spawns the supervised child, pumps its output, and
// answers its prompts.
package session

import "time"

// State represents the lifecycle state of a supervised session.
type State string

const (
	StateRunning    State = "running"
	StateDraining   State = "draining"
	StateTerminated State = "terminated"
)

// Stream identifies which child output stream a line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// OutputEvent is a single line of output from the child.
type OutputEvent struct {
	SessionID string    `json:"sessionId"`
	Stream    Stream    `json:"stream"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Info describes a spawned session.
type Info struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	StartedAt time.Time `json:"startedAt"`
}

// ResponseEvent records one injected response.
type ResponseEvent struct {
	SessionID string    `json:"sessionId"`
	Response  string    `json:"response"`
	Pattern   string    `json:"pattern,omitempty"` // empty when the default answered
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer receives session activity. Calls are made from the supervisor
// loop and must not block.
type Observer interface {
	SessionStarted(info Info)
	Output(event OutputEvent)
	Responded(event ResponseEvent)
	StateChanged(sessionID string, state State)
	Exited(sessionID string, exitCode int, cancelled bool)
}

type nopObserver struct{}

func (nopObserver) SessionStarted(Info)        {}
func (nopObserver) Output(OutputEvent)         {}
func (nopObserver) Responded(ResponseEvent)    {}
func (nopObserver) StateChanged(string, State) {}
func (nopObserver) Exited(string, int, bool)   {}
