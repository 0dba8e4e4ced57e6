package task

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
)

func isRunningAsRoot() bool {
	return os.Geteuid() == 0
}

func fileExistsAndCanRead(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

func itoa(n int) string { return strconv.Itoa(n) }

func asExitError(err error, target **exec.ExitError) bool {
	return errors.As(err, target)
}
