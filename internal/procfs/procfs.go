// Package procfs reads the handful of /proc files the sampler needs: the
// host-wide tick counters and, per process, the short name, state, cumulative
// CPU times, thread count and resident memory. It deliberately exposes raw
// cumulative tick values; all delta math lives in the accounting package.
package procfs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FS reads process attributes rooted at a proc mountpoint. The root is
// injectable so tests can point it at a synthetic tree.
type FS struct {
	root string
}

func New(root string) *FS {
	if root == "" {
		root = "/proc"
	}
	return &FS{root: root}
}

// TotalTicks returns the host's cumulative CPU tick total from the first
// line of /proc/stat. Only user, nice, system and idle are summed;
// iowait/irq/softirq are excluded, matching the baseline the per-process
// percentages are normalized against.
func (fs *FS) TotalTicks() (uint64, error) {
	f, err := os.Open(filepath.Join(fs.root, "stat"))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, fmt.Errorf("procfs: empty %s/stat", fs.root)
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, fmt.Errorf("procfs: malformed cpu line %q", scanner.Text())
	}

	var total uint64
	for _, f := range fields[1:5] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("procfs: bad tick field %q: %w", f, err)
		}
		total += v
	}
	return total, nil
}

// Comm returns the process's short display name with the trailing newline
// removed. An error means the process vanished between enumeration and read.
func (fs *FS) Comm(pid int) (string, error) {
	b, err := os.ReadFile(fs.pidPath(pid, "comm"))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\n"), nil
}

// Stat returns the single-character state code and the cumulative user and
// system tick counts from /proc/<pid>/stat. The comm field may itself
// contain spaces and parentheses, so parsing starts after the last ')'.
func (fs *FS) Stat(pid int) (state byte, utime, stime uint64, err error) {
	b, err := os.ReadFile(fs.pidPath(pid, "stat"))
	if err != nil {
		return 0, 0, 0, err
	}
	line := string(b)
	end := strings.LastIndexByte(line, ')')
	if end < 0 {
		return 0, 0, 0, fmt.Errorf("procfs: malformed stat for pid %d", pid)
	}

	// After ")": state is field 0, utime field 11, stime field 12.
	fields := strings.Fields(line[end+1:])
	if len(fields) < 13 || len(fields[0]) != 1 {
		return 0, 0, 0, fmt.Errorf("procfs: short stat for pid %d", pid)
	}
	utime, err = strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("procfs: bad utime for pid %d: %w", pid, err)
	}
	stime, err = strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("procfs: bad stime for pid %d: %w", pid, err)
	}
	return fields[0][0], utime, stime, nil
}

// Threads returns the thread count from /proc/<pid>/status, 0 if unreadable.
func (fs *FS) Threads(pid int) int {
	v, _ := strconv.Atoi(fs.statusField(pid, "Threads:"))
	return v
}

// ResidentKB returns the VmRSS value in kilobytes, 0 if unreadable. Kernel
// threads have no VmRSS line and report 0.
func (fs *FS) ResidentKB(pid int) uint64 {
	v, _ := strconv.ParseUint(fs.statusField(pid, "VmRSS:"), 10, 64)
	return v
}

func (fs *FS) statusField(pid int, prefix string) string {
	f, err := os.Open(fs.pidPath(pid, "status"))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		fields := strings.Fields(line[len(prefix):])
		if len(fields) == 0 {
			return ""
		}
		return fields[0]
	}
	return ""
}

func (fs *FS) pidPath(pid int, name string) string {
	return filepath.Join(fs.root, strconv.Itoa(pid), name)
}
