//go:build windows

package config

// Windows has no RLIMIT_NOFILE; per-process handle pressure shows up much
// earlier than on unix, so use the conservative fixed ceiling.
func maxWorkersFromFDLimit() int {
	return 500
}
