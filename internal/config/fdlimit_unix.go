//go:build unix

package config

import "syscall"

// maxWorkersFromFDLimit sizes the probe-pool ceiling from the process file
// descriptor limit rather than compiled-in OS branches. Each worker holds at
// most one outbound socket, but the process also needs descriptors for the
// cache store, log files and listener, so only a quarter of the soft limit
// is handed to the pool.
func maxWorkersFromFDLimit() int {
	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		return 500
	}
	n := int(lim.Cur / 4)
	if n < 64 {
		n = 64
	}
	if n > 2000 {
		n = 2000
	}
	return n
}
