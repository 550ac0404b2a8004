// Package prof records CPU profiles and heap snapshots of the hosted
// firmware.
//
// It is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/cdcecho
//
// Without the tag every function is a no-op and Enabled reports false, so
// call sites need no build constraints of their own.
//
// A CPU profile covers the span between Start and the stop function it
// returns:
//
//	stop, err := prof.Start("cpu.prof")
//	if err != nil {
//		return err
//	}
//	defer stop()
//
// Snapshots capture a single point in time:
//
//	prof.Capture(prof.ProfileHeap, "heap.prof")
//
// Block and mutex profiles stay empty until SampleContention enables them.
package prof
