//go:build !profile

package prof

import (
	"bytes"
	"testing"
)

func TestStubs(t *testing.T) {
	if Enabled() {
		t.Error("Enabled() = true without the profile tag")
	}
	stop, err := Start("")
	if err != nil || stop == nil {
		t.Fatalf("Start() stop == nil: %v, error = %v", stop == nil, err)
	}
	if err := stop(); err != nil {
		t.Errorf("stop() error = %v", err)
	}
	if Active() {
		t.Error("Active() = true")
	}
	var buf bytes.Buffer
	if err := CaptureTo(ProfileHeap, &buf, 0); err != nil || buf.Len() != 0 {
		t.Errorf("CaptureTo() = %v, wrote %d bytes", err, buf.Len())
	}
}
