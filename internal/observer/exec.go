package observer

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ExecObserver resolves the foreground application by running an external
// command. The command receives the window bounds (epoch millis) as its last
// two arguments and prints either "package\tname", a bare package id, or
// nothing when no app is foregrounded. This is the daemon's default way of
// binding to whatever the platform offers without linking platform SDKs.
type ExecObserver struct {
	command []string
}

// NewExecObserver builds an observer around the given command line.
func NewExecObserver(command []string) (*ExecObserver, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("observer command must not be empty")
	}
	return &ExecObserver{command: command}, nil
}

func (o *ExecObserver) Query(ctx context.Context, windowStart, windowEnd int64) (*AppInfo, error) {
	args := append(append([]string{}, o.command[1:]...),
		strconv.FormatInt(windowStart, 10),
		strconv.FormatInt(windowEnd, 10),
	)
	out, err := exec.CommandContext(ctx, o.command[0], args...).Output()
	if err != nil {
		return nil, fmt.Errorf("observer command failed: %w", err)
	}

	line := strings.TrimSpace(string(out))
	if line == "" {
		return nil, nil
	}

	pkg, name, found := strings.Cut(line, "\t")
	if !found || name == "" {
		name = pkg
	}
	return &AppInfo{Package: pkg, Name: name}, nil
}
