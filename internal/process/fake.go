/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package process

import (
	"context"
	"sync"
	"time"
)

// FakeLauncher records starts and hands out FakeHandles that exit only when
// told to. It is used by relay, pusher and playout tests.
type FakeLauncher struct {
	mu       sync.Mutex
	handles  []*FakeHandle
	startErr error
	onStart  func(*FakeHandle)
}

// NewFakeLauncher creates a FakeLauncher.
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{}
}

// FailStarts makes every following Start return err (nil restores).
func (f *FakeLauncher) FailStarts(err error) {
	f.mu.Lock()
	f.startErr = err
	f.mu.Unlock()
}

// OnStart registers a hook run synchronously for every started handle.
func (f *FakeLauncher) OnStart(fn func(*FakeHandle)) {
	f.mu.Lock()
	f.onStart = fn
	f.mu.Unlock()
}

// Start implements Launcher.
func (f *FakeLauncher) Start(_ context.Context, spec Spec) (Handle, error) {
	f.mu.Lock()
	if f.startErr != nil {
		err := f.startErr
		f.mu.Unlock()
		return nil, err
	}
	h := &FakeHandle{Spec: spec, pid: 1000 + len(f.handles), done: make(chan struct{})}
	f.handles = append(f.handles, h)
	hook := f.onStart
	f.mu.Unlock()

	if hook != nil {
		hook(h)
	}
	return h, nil
}

// Handles returns every handle started so far.
func (f *FakeLauncher) Handles() []*FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeHandle(nil), f.handles...)
}

// Last returns the most recent handle or nil.
func (f *FakeLauncher) Last() *FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

// Alive counts handles that have not exited.
func (f *FakeLauncher) Alive() int {
	n := 0
	for _, h := range f.Handles() {
		if !h.Exited() {
			n++
		}
	}
	return n
}

// FakeHandle is a simulated child.
type FakeHandle struct {
	Spec Spec

	pid  int
	done chan struct{}

	mu         sync.Mutex
	err        error
	exited     bool
	terminated bool
}

// Exit simulates the process exiting with code. Later calls are ignored.
func (h *FakeHandle) Exit(code int) {
	var err error
	if code != 0 {
		err = &ExitError{Code: code}
	}
	h.finish(err)
}

func (h *FakeHandle) finish(err error) {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return
	}
	h.exited = true
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Exited reports whether the handle has exited.
func (h *FakeHandle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// Terminated reports whether Terminate was called.
func (h *FakeHandle) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// PID implements Handle.
func (h *FakeHandle) PID() int { return h.pid }

// Done implements Handle.
func (h *FakeHandle) Done() <-chan struct{} { return h.done }

// Wait implements Handle.
func (h *FakeHandle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Terminate implements Handle; the fake dies immediately as if by SIGTERM.
func (h *FakeHandle) Terminate(time.Duration) {
	h.mu.Lock()
	h.terminated = true
	h.mu.Unlock()
	h.finish(&ExitError{Code: -1, Signal: "terminated"})
}
