//go:build linux

package platform

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// userHZ is the kernel's USER_HZ, the unit of utime/stime in /proc stat files.
const userHZ = 100

func gettid() int {
	return unix.Gettid()
}

// cpuTimes uses getrusage for the calling thread and /proc for any other.
func cpuTimes(tid int, self bool) (kernel, user time.Duration, err error) {
	if self {
		var ru unix.Rusage
		if err := unix.Getrusage(unix.RUSAGE_THREAD, &ru); err != nil {
			return 0, 0, fmt.Errorf("getrusage: %w", err)
		}
		return time.Duration(ru.Stime.Nano()), time.Duration(ru.Utime.Nano()), nil
	}

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, 0, fmt.Errorf("open procfs: %w", err)
	}
	proc, err := fs.Thread(os.Getpid(), tid)
	if err != nil {
		return 0, 0, fmt.Errorf("thread %d: %w", tid, err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("thread %d stat: %w", tid, err)
	}
	return ticks(stat.STime), ticks(stat.UTime), nil
}

func ticks(n uint) time.Duration {
	return time.Duration(n) * time.Second / userHZ
}
