// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package plugins

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/google/uuid"
)

// ExternalCommandError reports a subprocess that exited non-zero. The full
// output is already in the logs; the error itself stays terse and is never
// forwarded into user-visible status fields.
type ExternalCommandError struct {
	Command  string
	ExitCode int
}

func (e *ExternalCommandError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
}

// ActionContext carries the output stream of a plugin invocation. Subprocess
// output is streamed line by line so large solver logs never sit in memory.
type ActionContext struct {
	ID string

	// Output receives every produced line, newline-terminated. The build
	// layer points this at the log-append path with a stage prefix.
	Output io.Writer

	// Env entries are appended to the environment of spawned commands.
	Env []string

	// Dir, when set, is the working directory of spawned commands.
	Dir string
}

// NewActionContext builds a context writing to the given sink. A nil sink
// discards output.
func NewActionContext(output io.Writer) *ActionContext {
	if output == nil {
		output = io.Discard
	}
	return &ActionContext{ID: uuid.NewString(), Output: output}
}

// Printf writes a formatted line to the context output.
func (a *ActionContext) Printf(format string, args ...interface{}) {
	fmt.Fprintf(a.Output, strings.TrimSuffix(format, "\n")+"\n", args...)
}

// RunCommand executes the command, streaming combined stdout and stderr to
// the context output line by line. A non-zero exit returns
// ExternalCommandError after all output has been drained.
func (a *ActionContext) RunCommand(ctx context.Context, name string, args ...string) error {
	a.Printf("Running command: %s", strings.Join(append([]string{name}, args...), " "))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = a.Dir
	if len(a.Env) > 0 {
		cmd.Env = append(cmd.Environ(), a.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fmt.Fprintln(a.Output, scanner.Text())
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &ExternalCommandError{Command: name, ExitCode: exitErr.ExitCode()}
		}
		return fmt.Errorf("running %s: %w", name, err)
	}
	return scanErr
}
