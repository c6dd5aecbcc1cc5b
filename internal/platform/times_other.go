//go:build !linux

package platform

import "time"

func gettid() int { return 0 }

func cpuTimes(int, bool) (time.Duration, time.Duration, error) {
	return 0, 0, ErrUnsupported
}
