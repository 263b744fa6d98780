//go:build !linux

package classify

// platformPaneTTYDevice and platformProcessTTYDevice have no portable implementation
// outside Linux's /proc; callers treat a failed resolution as "tty
// unknown" and fall back to Unknown rather than matching on process
// executable name alone.
func platformPaneTTYDevice(ttyPath string) (uint64, bool) {
	return 0, false
}

func platformProcessTTYDevice(pid int) (uint64, bool) {
	return 0, false
}
