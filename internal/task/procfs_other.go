//go:build !linux

package task

// procFSTree on non-Linux hosts has no way to enumerate a process's
// children, so it reports none; only the root PID is ever signalled.
type procFSTree struct{}

func newProcFSTree() ProcessTree { return procFSTree{} }

func (procFSTree) Children(pid int) []int { return nil }
