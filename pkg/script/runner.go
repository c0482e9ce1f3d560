// Package script executes the operator's post-configuration script
// under a wall-clock deadline.
package script

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultTimeout bounds the post-configuration script when the operator
// does not supply a deadline of their own.
const DefaultTimeout = 10 * time.Minute

// ErrTimeout reports that the post-configuration script exceeded its
// deadline and was killed.
var ErrTimeout = errors.New("post-configuration script timed out")

// Runner executes one post-configuration script per boot. The script is
// written to a temporary file that is removed again on every exit path.
type Runner struct {
	logger hclog.Logger

	// TempDir is where the script file is staged. Empty means the
	// system default.
	TempDir string
}

// NewRunner creates a script runner.
func NewRunner(logger hclog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run decodes and executes a base64-encoded script. An empty script is
// a no-op. The script runs in its own process group; if it does not
// finish before the timeout the whole group is killed and ErrTimeout is
// returned. A non-zero exit status is an error as well.
func (r *Runner) Run(ctx context.Context, encodedScript string, timeout time.Duration) error {
	if encodedScript == "" {
		return nil
	}

	body, err := base64.StdEncoding.DecodeString(encodedScript)
	if err != nil {
		return fmt.Errorf("failed to decode post-configuration script: %w", err)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	path, err := writeTempScript(r.TempDir, body)
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			r.logger.Warn("failed to remove script file", "path", path, "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Through the shell, so scripts without a shebang line work the
	// same as ones with it.
	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Kill the whole process group so the script's children die
		// with it.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Info("running post-configuration script", "timeout", timeout.String())
	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start).Round(time.Millisecond)

	switch {
	case err == nil:
		r.logger.Info("post-configuration script finished", "elapsed", elapsed.String())
		return nil
	case runCtx.Err() == context.DeadlineExceeded:
		r.logger.Error("post-configuration script timed out",
			"timeout", timeout.String(), "stderr", lastLines(stderr.String()))
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	default:
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		r.logger.Error("post-configuration script failed",
			"exit_code", exitCode, "stderr", lastLines(stderr.String()))
		return fmt.Errorf("post-configuration script failed: %w", err)
	}
}

// writeTempScript writes the script body to a private executable file.
func writeTempScript(dir string, body []byte) (string, error) {
	f, err := os.CreateTemp(dir, "post-configuration-*.sh")
	if err != nil {
		return "", fmt.Errorf("failed to create script file: %w", err)
	}

	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write script file: %w", err)
	}
	if err := f.Chmod(0o700); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to mark script executable: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write script file: %w", err)
	}

	return f.Name(), nil
}

// lastLines trims script output for log context.
func lastLines(out string) string {
	const keep = 5
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	return strings.Join(lines, "\n")
}
