// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

type codedError struct{ code int }

func (e codedError) Error() string { return "coded" }
func (e codedError) ExitCode() int { return e.code }

func TestReport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantOutput string
	}{
		{"plain error", errors.New("socket_path is required"), 1, "error: socket_path is required\n"},
		{"exit code", codedError{code: 3}, 3, ""},
		{"wrapped exit code", fmt.Errorf("send: %w", codedError{code: 2}), 2, ""},
	}
	for _, test := range tests {
		var output bytes.Buffer
		if code := report(&output, test.err); code != test.wantCode {
			t.Errorf("%s: report() = %d, want %d", test.name, code, test.wantCode)
		}
		if output.String() != test.wantOutput {
			t.Errorf("%s: output = %q, want %q", test.name, output.String(), test.wantOutput)
		}
	}
}
