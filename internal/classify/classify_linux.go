//go:build linux

package classify

import (
	"os"
	"strconv"
	"strings"
	"syscall"
)

// platformPaneTTYDevice resolves a pane's tty path (e.g. "/dev/pts/3") to the
// kernel device number backing it, so ttyAttachedAgent can match
// processes by their actual controlling terminal instead of scanning
// every process on the host.
func platformPaneTTYDevice(ttyPath string) (uint64, bool) {
	var st syscall.Stat_t
	if err := syscall.Stat(ttyPath, &st); err != nil {
		return 0, false
	}
	return uint64(st.Rdev), true
}

// platformProcessTTYDevice reads a process's controlling tty device number from
// /proc/<pid>/stat field 7 (tty_nr). The comm field can itself contain
// spaces or parens, so fields are read after the last ')' rather than by
// naive whitespace splitting.
func platformProcessTTYDevice(pid int) (uint64, bool) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, false
	}
	i := strings.LastIndexByte(string(data), ')')
	if i < 0 || i+2 >= len(data) {
		return 0, false
	}
	fields := strings.Fields(string(data[i+2:]))
	// state(0) ppid(1) pgrp(2) session(3) tty_nr(4)
	if len(fields) < 5 {
		return 0, false
	}
	ttyNr, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return 0, false
	}
	return uint64(ttyNr), true
}
