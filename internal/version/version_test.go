/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = oldVersion, oldCommit })

	Version, Commit = "1.2.3", ""
	if got := String(); !strings.HasPrefix(got, "nocturne 1.2.3 ") {
		t.Errorf("String() = %q", got)
	}

	Commit = "abc123"
	if got := String(); !strings.Contains(got, "(abc123)") {
		t.Errorf("String() = %q, want commit", got)
	}
}
