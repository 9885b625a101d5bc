package errs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
)

func TestUserMessageClassifiesWrappedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"argument", fmt.Errorf("frequency -1: %w", ErrInvalidArgument), "out of range"},
		{"not found", fmt.Errorf("track %q: %w", "x", ErrNotFound), "does not exist"},
		{"state", fmt.Errorf("no api key: %w", ErrInvalidState), "not possible"},
		{"external", fmt.Errorf("chat: %w", ErrExternalFailure), "unavailable"},
		{"timeout", fmt.Errorf("%w: %w", ErrExternalFailure, context.DeadlineExceeded), "too long"},
		{"other", errors.New("boom"), "Something went wrong"},
	}
	for _, tt := range tests {
		got := UserMessage(tt.err)
		if !strings.Contains(got, tt.want) {
			t.Errorf("%s: UserMessage = %q, want it to contain %q", tt.name, got, tt.want)
		}
	}
}

func TestUserMessageHidesInternalText(t *testing.T) {
	err := fmt.Errorf("dial tcp 10.0.0.1:443: connection refused: %w", ErrExternalFailure)
	if got := UserMessage(err); strings.Contains(got, "10.0.0.1") {
		t.Errorf("UserMessage leaked internal detail: %q", got)
	}
}

func TestReportOnlyWhenDebugging(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	err := fmt.Errorf("config /srv/tonelab.yaml: %w", ErrNotFound)

	t.Setenv(DebugEnv, "")
	Report("tonelab", err)
	if buf.Len() != 0 {
		t.Errorf("Report wrote %q with %s unset", buf.String(), DebugEnv)
	}

	t.Setenv(DebugEnv, "1")
	Report("tonelab", nil)
	Report("tonelab", err)
	if got := buf.String(); !strings.Contains(got, "tonelab: config /srv/tonelab.yaml") || strings.Count(got, "\n") != 1 {
		t.Errorf("debug log = %q", got)
	}
}
