package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// SpawnDetached launches the current binary under the "supervise"
// subcommand in a new session, then returns immediately with its PID.
// Go has no fork(); re-executing the binary under a subcommand is the
// idiomatic substitute for the Python original's
// multiprocessing.Process(daemon=False) — the child fully detaches from
// the parent's session so the parent (the HTTP-facing Orchestrator
// process) can exit without taking the job executor down with it.
func SpawnDetached(jobID string, storagePath string) (int, error) {
	self, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve own executable path: %w", err)
	}

	cmd := exec.Command(self, "supervise", "--job", jobID, "--db", storagePath)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn detached supervisor: %w", err)
	}
	// Deliberately not cmd.Wait(): the parent returns immediately and
	// leaves the child running under init/session leader, matching
	// start_detached()'s contract in the Python original.
	return cmd.Process.Pid, nil
}

// IsAlive probes whether pid still refers to a live process, without
// sending it a real signal (signal 0 is the POSIX idiom for this).
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
