//go:build !linux

package beefdb

import "sync/atomic"

var tidCounter uint64

// threadID returns a process-unique token for reader-slot
// bookkeeping. Slots are identified by index, so the token only needs
// to be distinguishable, not an OS thread id.
func threadID() uint64 {
	return atomic.AddUint64(&tidCounter, 1)
}
