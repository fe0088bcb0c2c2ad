//go:build !unix

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package process

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// Without process groups or SIGTERM the only option is an immediate kill.
func signalTerminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func signalKill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func exitStatus(err *exec.ExitError) *ExitError {
	return &ExitError{Code: err.ExitCode()}
}
