//go:build linux

package beefdb

import "golang.org/x/sys/unix"

// threadID returns the OS thread id for reader-slot bookkeeping.
func threadID() uint64 {
	return uint64(unix.Gettid())
}
