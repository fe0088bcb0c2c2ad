/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package process starts and terminates the encoder child processes.
//
// Children run in their own process group so a terminate signal reaches any
// helpers they fork. Termination is SIGTERM, then SIGKILL once the grace
// period expires.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// DefaultGrace is how long Terminate waits before escalating to SIGKILL.
const DefaultGrace = 3 * time.Second

// Spec describes a child process.
type Spec struct {
	Name   string // for logs
	Path   string
	Args   []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// Handle is a running child.
type Handle interface {
	PID() int
	// Done is closed once the process has been reaped.
	Done() <-chan struct{}
	// Wait blocks until exit. It returns nil for status 0 and *ExitError for
	// any other status, including death by signal.
	Wait() error
	// Terminate sends SIGTERM and escalates to SIGKILL after grace. It does
	// not block and is safe to call more than once.
	Terminate(grace time.Duration)
}

// Launcher starts children.
type Launcher interface {
	Start(ctx context.Context, spec Spec) (Handle, error)
}

// ExitError reports a non-zero exit. Code is -1 when the process was killed
// by a signal.
type ExitError struct {
	Code   int
	Signal string
}

func (e *ExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("exited on signal %s", e.Signal)
	}
	return fmt.Sprintf("exited with code %d", e.Code)
}

// Exec launches real processes with os/exec.
type Exec struct{}

// Start implements Launcher.
func (Exec) Start(_ context.Context, spec Spec) (Handle, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go h.reap()
	return h, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	termOnce sync.Once
}

func (h *execHandle) reap() {
	err := h.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		h.err = exitStatus(exitErr)
	} else {
		h.err = err
	}
	close(h.done)
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

func (h *execHandle) Wait() error {
	<-h.done
	return h.err
}

func (h *execHandle) Terminate(grace time.Duration) {
	h.termOnce.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}

		if grace <= 0 {
			grace = DefaultGrace
		}
		_ = signalTerminate(h.cmd)

		go func() {
			timer := time.NewTimer(grace)
			defer timer.Stop()
			select {
			case <-h.done:
			case <-timer.C:
				_ = signalKill(h.cmd)
			}
		}()
	})
}
