// Package procutil answers "is this still the same process" questions
// using gopsutil, guarding the task-timeout kill loop against the
// PID-recycling risk called out in the original implementation's kill()
// comment: a PID can be reused by the OS between the moment a task's PID
// is captured and the moment it is signalled.
package procutil

import (
	"github.com/shirou/gopsutil/v3/process"
)

// Identity captures enough about a PID at launch time to later tell
// whether the same PID still refers to the same OS process.
type Identity struct {
	PID          int32
	CreationTime int64 // milliseconds since epoch, 0 if unavailable
}

// Capture snapshots a PID's identity right after launch.
func Capture(pid int) Identity {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Identity{PID: int32(pid)}
	}
	created, err := p.CreateTime()
	if err != nil {
		return Identity{PID: int32(pid)}
	}
	return Identity{PID: int32(pid), CreationTime: created}
}

// StillSame reports whether pid currently refers to the same OS process
// captured in id. If creation-time information was unavailable at
// capture time, this degrades to "pid currently exists" — best-effort,
// never a hard guarantee, matching the original's documented residual
// risk.
func StillSame(id Identity) bool {
	p, err := process.NewProcess(id.PID)
	if err != nil {
		return false
	}
	if id.CreationTime == 0 {
		return true
	}
	created, err := p.CreateTime()
	if err != nil {
		return false
	}
	return created == id.CreationTime
}
