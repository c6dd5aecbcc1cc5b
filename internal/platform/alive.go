package platform

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineExists scans a dump of all goroutine stacks for id. It stops the
// world while dumping and is meant for periodic housekeeping only.
func goroutineExists(id ID) bool {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	header := []byte("goroutine " + strconv.FormatInt(int64(id), 10) + " [")
	if bytes.HasPrefix(buf, header) {
		return true
	}
	return bytes.Contains(buf, append([]byte("\n"), header...))
}
