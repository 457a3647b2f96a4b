package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/satchel/internal/log"
)

const (
	// maxOutputBytes caps the amount of stdout/stderr captured from a script.
	maxOutputBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

var (
	// ErrTimeout is returned when a script outlives its deadline.
	ErrTimeout = errors.New("script timed out")
)

// ExitError reports a script that ran and exited non-zero.
type ExitError struct {
	Path     string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", filepath.Base(e.Path), e.ExitCode)
}

// Request describes one script invocation.
type Request struct {
	Path string
	Args []string
	Dir  string
	// Env entries are appended to the inherited environment.
	Env []string
}

// Result carries what a finished script left behind.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes scripts.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// ExecRunner runs scripts as direct child processes.
type ExecRunner struct {
	Timeout time.Duration
	// Shell, when set, runs scripts as `Shell <path> args...`.
	Shell string

	grace time.Duration
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner creates a runner enforcing timeout on every script.
func NewExecRunner(timeout time.Duration, shell string) *ExecRunner {
	return &ExecRunner{Timeout: timeout, Shell: shell, grace: terminationGracePeriod}
}

// Run spawns the script and waits for it. A non-zero exit yields *ExitError.
func (r *ExecRunner) Run(ctx context.Context, req Request) (Result, error) {
	logger := log.WithComponent("script").With("script", req.Path)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	name, args := req.Path, req.Args
	if r.Shell != "" {
		name, args = r.Shell, append([]string{req.Path}, req.Args...)
	}

	// Don't use CommandContext - termination is managed below.
	cmd := exec.Command(name, args...)
	cmd.Dir = req.Dir
	cmd.Stdin = nil
	// Own process group so termination reaches the script's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = r.gracePeriod()
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &cappedWriter{w: &stdout, limit: maxOutputBytes}
	cmd.Stderr = &cappedWriter{w: &stderr, limit: maxOutputBytes}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	logger.Debug("spawning script", "args", req.Args, "dir", req.Dir, "timeout", timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", req.Path, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var err error
	select {
	case <-timer.C:
		r.terminate(cmd, waitErr, logger)
		err = fmt.Errorf("%s: %w after %s", req.Path, ErrTimeout, timeout)
	case <-ctx.Done():
		r.terminate(cmd, waitErr, logger)
		err = fmt.Errorf("%s: %w", req.Path, ctx.Err())
	case err = <-waitErr:
	}

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Debug("script exited with non-zero status", "exit_code", exitErr.ExitCode())
			return res, &ExitError{Path: req.Path, ExitCode: exitErr.ExitCode(), Stderr: res.Stderr}
		}
		return res, err
	}
	return res, nil
}

func (r *ExecRunner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	logger.Warn("script deadline reached, sending SIGTERM")
	if cmd.Process != nil {
		if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(r.gracePeriod())
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("script exited after SIGTERM")
	case <-grace.C:
		logger.Warn("script did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

func (r *ExecRunner) gracePeriod() time.Duration {
	if r.grace <= 0 {
		return terminationGracePeriod
	}
	return r.grace
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		return cmd.Process.Signal(sig)
	}
	return nil
}

// cappedWriter drops output beyond limit while reporting full writes, so the
// child never blocks on a full pipe.
type cappedWriter struct {
	w     io.Writer
	limit int
	n     int
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	if room := c.limit - c.n; room > 0 {
		chunk := p
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		written, err := c.w.Write(chunk)
		c.n += written
		if err != nil {
			return written, err
		}
	}
	return len(p), nil
}
