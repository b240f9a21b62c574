//go:build !linux

package peerweb

func processRSSBytes() (uint64, bool) { return 0, false }
