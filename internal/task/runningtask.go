package task

import (
	"context"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/CBrophy/omicron/internal/procutil"
	logx "github.com/CBrophy/omicron/pkg/logx"
)

// Config carries the host-level launch/kill command paths, validated at
// launch time (spec §4.5's launch preconditions).
type Config struct {
	SuCommand   string
	KillCommand string
}

// RunningTask is a single child-process invocation of a Job, launched as
// the configured user via `su`. Job reads only the published atomic
// fields (PID, EndTime, ReturnCode, Status) and never blocks on the
// child — per spec §4.5/§5, RunningTask holds no back-reference to its
// Job.
type RunningTask struct {
	TaskID        int
	CommandLine   string
	ExecutingUser string
	LaunchTime    time.Time
	TimeoutMinutes int

	cfg  Config
	log  logx.Logger
	tree ProcessTree

	pid        atomic.Int64
	endTime    atomic.Int64 // unix nanoseconds; -1 until done
	returnCode atomic.Int32
	status     atomic.Int32

	isRunningAsRoot     func() bool
	fileExistsAndCanRead func(path string) bool
}

// New constructs a RunningTask in its initial state: pid -1, endTime -1,
// returnCode 255, status FailedStart (spec §3).
func New(taskID int, commandLine, executingUser string, timeoutMinutes int, cfg Config, log logx.Logger) *RunningTask {
	rt := &RunningTask{
		TaskID:               taskID,
		CommandLine:          commandLine,
		ExecutingUser:        executingUser,
		LaunchTime:           time.Now(),
		TimeoutMinutes:       timeoutMinutes,
		cfg:                  cfg,
		log:                  log,
		tree:                 defaultProcessTree,
		isRunningAsRoot:      isRunningAsRoot,
		fileExistsAndCanRead: fileExistsAndCanRead,
	}
	rt.pid.Store(-1)
	rt.endTime.Store(-1)
	rt.returnCode.Store(255)
	rt.status.Store(int32(StatusFailedStart))
	return rt
}

func (rt *RunningTask) PID() int64          { return rt.pid.Load() }
func (rt *RunningTask) EndTime() int64       { return rt.endTime.Load() }
func (rt *RunningTask) ReturnCode() int      { return int(rt.returnCode.Load()) }
func (rt *RunningTask) Status() Status       { return Status(rt.status.Load()) }
func (rt *RunningTask) IsDone() bool         { return rt.endTime.Load() > -1 }

// Run launches and supervises the child process. It blocks until the
// child has exited (or been killed) and is intended to be run on its own
// goroutine (one task worker per RunningTask, per spec §5).
func (rt *RunningTask) Run(ctx context.Context) {
	if !rt.isRunningAsRoot() {
		rt.log.Warn("not running as root, cannot execute task", logx.String("command", rt.CommandLine))
		rt.endTime.Store(time.Now().UnixNano())
		return
	}
	if !rt.fileExistsAndCanRead(rt.cfg.SuCommand) {
		rt.log.Warn("su command missing", logx.String("path", rt.cfg.SuCommand))
		rt.endTime.Store(time.Now().UnixNano())
		return
	}
	if !rt.fileExistsAndCanRead(rt.cfg.KillCommand) {
		rt.log.Warn("kill command missing", logx.String("path", rt.cfg.KillCommand))
		rt.endTime.Store(time.Now().UnixNano())
		return
	}

	cmd := exec.Command(rt.cfg.SuCommand, "-", rt.ExecutingUser, "-c", rt.CommandLine)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		rt.log.Error("failed to start task", logx.String("command", rt.CommandLine), logx.Err(err))
		rt.endTime.Store(time.Now().UnixNano())
		return
	}

	pid := cmd.Process.Pid
	rt.pid.Store(int64(pid))
	identity := procutil.Capture(pid)
	rt.status.Store(int32(StatusStarted))
	rt.log.Info("task started", logx.Int64("pid", int64(pid)), logx.String("command", rt.CommandLine))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if rt.TimeoutMinutes > 0 {
		rt.superviseWithTimeout(done, pid, identity)
	} else {
		rt.returnCode.Store(int32(absExitCode(<-done)))
	}

	if Status(rt.status.Load()) != StatusKilled {
		if rt.returnCode.Load() == 0 {
			rt.status.Store(int32(StatusComplete))
		} else {
			rt.status.Store(int32(StatusError))
		}
	}

	rt.endTime.Store(time.Now().UnixNano())
	rt.log.Info("task terminated",
		logx.Int64("pid", int64(pid)),
		logx.String("status", Status(rt.status.Load()).String()),
		logx.Duration("duration", time.Duration(rt.endTime.Load()-rt.LaunchTime.UnixNano())),
	)
}

func (rt *RunningTask) superviseWithTimeout(done chan error, pid int, identity procutil.Identity) {
	timeout := time.Duration(rt.TimeoutMinutes) * time.Minute
	killCount := 0

	for {
		select {
		case err := <-done:
			rt.returnCode.Store(int32(absExitCode(err)))
			return
		case <-time.After(timeout):
			if killCount >= 1 {
				rt.log.Error("repeated attempts to kill process after timeout have failed",
					logx.Int("attempts", killCount), logx.String("command", rt.CommandLine))
			}
			rt.killProcessTree(pid, identity)
			rt.status.Store(int32(StatusKilled))
			killCount++
		}
	}
}

func (rt *RunningTask) killProcessTree(pid int, identity procutil.Identity) {
	if !procutil.StillSame(identity) {
		rt.log.Warn("pid no longer refers to the launched process, skipping kill to avoid collateral damage",
			logx.Int("pid", pid))
		return
	}

	pids := recursivelyFindAllChildren(rt.tree, pid)
	rt.log.Warn("task timeout, killing process tree",
		logx.Int("timeout_minutes", rt.TimeoutMinutes),
		logx.Any("pids", pids),
		logx.String("command", rt.CommandLine))

	for _, p := range pids {
		killCmd := exec.Command(rt.cfg.KillCommand, "-9", itoa(p))
		_ = killCmd.Run()
	}
}

func absExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if asExitError(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			code = -code
		}
		return code
	}
	return 255
}
