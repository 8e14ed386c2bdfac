package orchestrator

import "syscall"

// killProcessGroup mirrors kill_executor's os.killpg-then-os.kill
// fallback: it SIGKILLs pid's process group, and pid alone if that
// fails. The Worker Pool's agent CLI subprocesses each start in their
// own process group (Setpgid in internal/runner), so killing the
// executor's group does not reach them.
func killProcessGroup(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}
