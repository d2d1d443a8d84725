// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestMergeSettings(t *testing.T) {
	t.Parallel()

	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
	}

	tests := []struct {
		name string
		base stamp
		want string
	}{
		{
			name: "nothing injected",
			base: stamp{commit: "unknown", time: "unknown"},
			want: "(0123456789ab-dirty, 2026-10-01T12:00:00Z)",
		},
		{
			name: "ldflags win",
			base: stamp{commit: "abc1234", time: "2026-10-02T00:00:00Z"},
			want: "(abc1234, 2026-10-02T00:00:00Z)",
		},
	}
	for _, test := range tests {
		got := mergeSettings(test.base, settings).String()
		if !strings.HasSuffix(got, test.want) {
			t.Errorf("%s: String() = %q, want suffix %q", test.name, got, test.want)
		}
	}
}

func TestFullIncludesPlatform(t *testing.T) {
	t.Parallel()

	full := Full()
	if !strings.HasPrefix(full, Short()) {
		t.Errorf("Full() = %q, want prefix %q", full, Short())
	}
	for _, want := range []string{"Go: ", "Platform: "} {
		if !strings.Contains(full, want) {
			t.Errorf("Full() = %q, missing %q", full, want)
		}
	}
}
