/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of nocturne.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/nocturne/internal/version.Version=X.Y.Z
var Version = "0.1.0-dev"

// Commit is the source revision, set at build time.
var Commit = ""

// String formats the version for humans.
func String() string {
	s := "nocturne " + Version
	if Commit != "" {
		s += " (" + Commit + ")"
	}
	return fmt.Sprintf("%s %s/%s", s, runtime.GOOS, runtime.GOARCH)
}
