//go:build profile

package prof

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"

	"github.com/ardnew/cdcecho/pkg"
)

// Profiling errors.
var (
	// ErrActive indicates a CPU profile is already being recorded.
	ErrActive = errors.New("cpu profile already active")

	// ErrInvalidProfile indicates an unknown snapshot profile.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Enabled reports whether the binary was built with the profile tag.
func Enabled() bool { return true }

var (
	cpuMutex sync.Mutex
	cpuOut   io.Closer // set when the profile was opened by Start
	cpuOn    bool
)

// Start records a CPU profile to path until the returned stop function
// runs. Stop is idempotent.
func Start(path string) (stop func() error, err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := start(f, f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	pkg.LogInfo(pkg.ComponentProf, "cpu profile started", "path", path)
	return stopOnce(), nil
}

// StartWriter is Start for an already open writer, which stays open.
func StartWriter(w io.Writer) (stop func() error, err error) {
	if err := start(w, nil); err != nil {
		return nil, err
	}
	return stopOnce(), nil
}

func start(w io.Writer, c io.Closer) error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	if cpuOn {
		return ErrActive
	}
	if err := pprof.StartCPUProfile(w); err != nil {
		return err
	}
	cpuOut, cpuOn = c, true
	return nil
}

func stopOnce() func() error {
	var once sync.Once
	var err error
	return func() error {
		once.Do(func() { err = stop() })
		return err
	}
}

func stop() error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	if !cpuOn {
		return nil
	}
	pprof.StopCPUProfile()
	cpuOn = false
	pkg.LogInfo(pkg.ComponentProf, "cpu profile stopped")
	if cpuOut == nil {
		return nil
	}
	err := cpuOut.Close()
	cpuOut = nil
	return err
}

// Active reports whether a CPU profile is being recorded.
func Active() bool {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	return cpuOn
}

// Capture writes a snapshot of profile to path.
func Capture(profile Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := CaptureTo(profile, f, 0); err != nil {
		f.Close()
		return err
	}
	pkg.LogInfo(pkg.ComponentProf, "profile written", "profile", profile, "path", path)
	return f.Close()
}

// CaptureTo writes a snapshot of profile to w. Debug level 0 is the binary
// format read by go tool pprof; 1 is text.
func CaptureTo(profile Profile, w io.Writer, debug int) error {
	p := pprof.Lookup(string(profile))
	if p == nil {
		return fmt.Errorf("%w: %q", ErrInvalidProfile, profile)
	}
	if profile == ProfileHeap || profile == ProfileAllocs {
		runtime.GC()
	}
	return p.WriteTo(w, debug)
}

// SampleContention turns on block and mutex sampling at rate. Zero turns
// it off.
func SampleContention(rate int) {
	runtime.SetBlockProfileRate(rate)
	runtime.SetMutexProfileFraction(rate)
}
