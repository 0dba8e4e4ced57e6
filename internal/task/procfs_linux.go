//go:build linux

package task

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type procFSTree struct{}

func newProcFSTree() ProcessTree { return procFSTree{} }

// Children reads /proc/<pid>/task/<pid>/children, which the kernel
// maintains as a space-separated list of direct child PIDs. A missing or
// unreadable file (process already gone, permissions, non-Linux
// namespace oddities) yields no children rather than an error.
func (procFSTree) Children(pid int) []int {
	path := fmt.Sprintf("/proc/%d/task/%d/children", pid, pid)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	fields := strings.Fields(string(data))
	children := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		children = append(children, n)
	}
	return children
}
