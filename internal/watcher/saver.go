package watcher

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Saver asks an editor to save the file at path.
type Saver interface {
	Save(ctx context.Context, path string) error
}

// DefaultSaveCommand runs the editor's save action through its CLI.
var DefaultSaveCommand = []string{"code", "--command", "workbench.action.files.save"}

// CommandSaver runs a fixed command for every save. The path is not passed
// to the command; editors save their focused buffer.
type CommandSaver struct {
	Command []string
}

// DefaultSaver returns a CommandSaver running DefaultSaveCommand.
func DefaultSaver() CommandSaver {
	return CommandSaver{Command: append([]string(nil), DefaultSaveCommand...)}
}

// ParseCommand splits a command line on whitespace.
func ParseCommand(line string) ([]string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errors.New("empty save command")
	}
	return fields, nil
}

// Save implements Saver.
func (s CommandSaver) Save(ctx context.Context, path string) error {
	if len(s.Command) == 0 {
		return errors.New("no save command configured")
	}
	out, err := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", s.Command[0], err, msg)
		}
		return fmt.Errorf("%s: %w", s.Command[0], err)
	}
	return nil
}
