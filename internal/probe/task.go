// SPDX-License-Identifier: MIT
package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/netpulse-io/netpulse/internal/model"
)

// defaultShell interprets task commands when neither the probe nor the
// dispatcher configures one.
const defaultShell = "/bin/sh"

// task executes a shell command; exit code 0 within the deadline is
// success. The consent gate is checked on every dispatch so revoking it
// takes effect immediately.
func (d *Dispatcher) task(ctx context.Context, spec *model.TaskProbe) model.ProbeResult {
	if !d.scriptsAllowed() {
		return model.ProbeResult{
			Success: false,
			Class:   model.ClassTask,
			Error:   ErrScriptsDisabled.Error(),
		}
	}

	shell := spec.Shell
	if shell == "" {
		shell = d.shell
	}
	if shell == "" {
		shell = defaultShell
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, shell, "-c", spec.Command)
	err := cmd.Run()
	latency := time.Since(start).Milliseconds()

	if err == nil {
		return model.ProbeResult{
			Success:   true,
			LatencyMS: model.LatencyMSPtr(latency),
			Details:   map[string]string{"exit_code": "0", "shell": shell},
		}
	}

	if ctx.Err() != nil {
		return model.ProbeResult{
			Success:   false,
			LatencyMS: model.LatencyMSPtr(latency),
			Class:     model.ClassTimeout,
			Error:     fmt.Sprintf("command timed out: %v", ctx.Err()),
		}
	}

	result := model.ProbeResult{
		Success:   false,
		LatencyMS: model.LatencyMSPtr(latency),
		Class:     model.ClassTask,
		Error:     err.Error(),
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.Details = map[string]string{"exit_code": strconv.Itoa(exitErr.ExitCode()), "shell": shell}
	}
	return result
}
