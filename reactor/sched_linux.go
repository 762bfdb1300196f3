//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// setFIFOScheduling switches the calling thread to SCHED_FIFO at the
// maximum priority the kernel allows for that policy. Requires
// CAP_SYS_NICE or an appropriate rlimit.
func setFIFOScheduling() error {
	max, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MAX, uintptr(unix.SCHED_FIFO), 0, 0)
	if errno != 0 {
		return errno
	}

	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(max),
	}
	// pid 0 targets the calling thread, which Start has locked to this
	// goroutine.
	return unix.SchedSetAttr(0, attr, 0)
}
