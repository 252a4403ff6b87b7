// Package procutil answers one question: does the process named in a
// run.pid file still own its run directory?
package procutil

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// PIDAlive reports whether pid refers to a running, non-zombie process.
// A zombie has exited; its run directory is safe to take over.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if PIDZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}

// PIDZombie reports whether pid is in a zombie or dead state. Uses
// procfs when present, ps otherwise.
func PIDZombie(pid int) bool {
	if b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat"); err == nil {
		return zombieState(statField(string(b)))
	}
	out, err := exec.Command("ps", "-o", "state=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return false
	}
	return zombieState(strings.TrimSpace(string(out)))
}

// statField extracts the process state field that follows the
// parenthesized comm field in /proc/<pid>/stat. The comm itself may
// contain parentheses, so scan from the last ')'.
func statField(line string) string {
	i := strings.LastIndexByte(line, ')')
	if i < 0 || i+2 >= len(line) {
		return ""
	}
	return line[i+2 : i+3]
}

func zombieState(s string) bool {
	if s == "" {
		return false
	}
	return s[0] == 'Z' || s[0] == 'X'
}

// ReadPIDFile parses a pid file, returning 0 when the file is missing
// or malformed.
func ReadPIDFile(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
