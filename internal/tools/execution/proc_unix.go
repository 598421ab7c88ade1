//go:build !windows
// +build !windows

package execution

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// runCommand executes command through bash -c in dir, writing output to the
// given sinks as it is produced. The command gets its own process group so
// that a timeout or cancellation kills every child it spawned.
func runCommand(ctx context.Context, dir, command string, timeout time.Duration, stdout, stderr io.Writer) (int, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command("bash", "-c", command)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return -1, false, err
	}

	// Kill the whole process group (negative PID) on timeout or cancel.
	done := make(chan struct{})
	go func() {
		select {
		case <-cctx.Done():
			if cmd.Process != nil {
				syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)

	// Caller cancellation also cancels cctx, but reports as Canceled, not
	// DeadlineExceeded; the caller words those two differently.
	timedOut := errors.Is(cctx.Err(), context.DeadlineExceeded)

	if waitErr != nil {
		code := 1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return code, timedOut, nil
	}
	return 0, timedOut, nil
}
