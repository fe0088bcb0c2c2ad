/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build metadata.
package version

import "fmt"

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/grimnir_tv/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// Commit is the short git revision, also set via ldflags.
var Commit = ""

// String returns the version with the commit appended when known.
func String() string {
	if Commit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
