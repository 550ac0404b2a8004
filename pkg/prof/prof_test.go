//go:build profile

package prof

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.prof")

	stop, err := Start(path)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !Active() {
		t.Error("Active() = false after Start()")
	}
	if _, err := StartWriter(&bytes.Buffer{}); !errors.Is(err, ErrActive) {
		t.Errorf("second start error = %v, want %v", err, ErrActive)
	}

	if err := stop(); err != nil {
		t.Errorf("stop() error = %v", err)
	}
	if err := stop(); err != nil {
		t.Errorf("second stop() error = %v", err)
	}
	if Active() {
		t.Error("Active() = true after stop()")
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if fi.Size() == 0 {
		t.Error("profile file is empty")
	}
}

func TestStart_InvalidPath(t *testing.T) {
	if _, err := Start(filepath.Join(t.TempDir(), "missing", "cpu.prof")); err == nil {
		t.Error("Start() error = nil, want error")
	}
	if Active() {
		t.Error("Active() = true after failed Start()")
	}
}

func TestStartWriter(t *testing.T) {
	var buf bytes.Buffer
	stop, err := StartWriter(&buf)
	if err != nil {
		t.Fatalf("StartWriter() error = %v", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop() error = %v", err)
	}
	if buf.Len() == 0 {
		t.Error("CPU profile is empty")
	}
}

func TestCapture(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []Profile{ProfileHeap, ProfileAllocs, ProfileGoroutine, ProfileBlock, ProfileMutex} {
		t.Run(p.String(), func(t *testing.T) {
			path := filepath.Join(dir, p.String()+".prof")
			if err := Capture(p, path); err != nil {
				t.Fatalf("Capture(%s) error = %v", p, err)
			}
			if _, err := os.Stat(path); err != nil {
				t.Errorf("Stat(%s) error = %v", path, err)
			}
		})
	}
}

func TestCaptureTo(t *testing.T) {
	var buf bytes.Buffer
	if err := CaptureTo(ProfileGoroutine, &buf, 1); err != nil {
		t.Fatalf("CaptureTo() error = %v", err)
	}
	if !strings.Contains(buf.String(), "goroutine") {
		t.Error("text goroutine profile does not mention goroutines")
	}

	if err := CaptureTo("cpu", &buf, 0); !errors.Is(err, ErrInvalidProfile) {
		t.Errorf("CaptureTo(cpu) error = %v, want %v", err, ErrInvalidProfile)
	}
}

func TestEnabled(t *testing.T) {
	if !Enabled() {
		t.Error("Enabled() = false with the profile tag")
	}
}
