package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{in: "10.000000\n", want: 10, ok: true},
		{in: "  3600.5  ", want: 3600.5, ok: true},
		{in: "12.5\nextra", want: 12.5, ok: true},
		{in: "", ok: false},
		{in: "N/A", ok: false},
		{in: "garbage", ok: false},
		{in: "0", ok: false},
		{in: "-4", ok: false},
	}
	for _, tc := range tests {
		got, ok := ParseDuration(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseDuration(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestProbeDuration(t *testing.T) {
	bin := writeStub(t, "echo 42.25\n")
	got, err := ProbeDuration(context.Background(), bin, "/media/in.mp4")
	if err != nil {
		t.Fatalf("ProbeDuration returned error: %v", err)
	}
	if got != 42.25 {
		t.Fatalf("duration = %v, want 42.25", got)
	}
}

func TestProbeDurationFailures(t *testing.T) {
	failing := writeStub(t, "echo 'no such file' >&2\nexit 1\n")
	if _, err := ProbeDuration(context.Background(), failing, "/missing.mp4"); err == nil {
		t.Fatal("expected error from failing prober")
	}

	empty := writeStub(t, "echo N/A\n")
	_, err := ProbeDuration(context.Background(), empty, "/in.mp4")
	if !errors.Is(err, ErrUnknownDuration) {
		t.Fatalf("expected ErrUnknownDuration, got %v", err)
	}
}
