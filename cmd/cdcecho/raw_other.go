//go:build !linux

package main

import "os"

// makeRaw leaves the terminal as it is outside Linux.
func makeRaw(*os.File) error { return nil }
