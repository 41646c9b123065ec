// SPDX-License-Identifier: MIT
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/netpulse-io/netpulse/internal/config"
	"github.com/netpulse-io/netpulse/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkStateDir(logger, cfg.StateDir); err != nil {
		return fmt.Errorf("state directory check failed: %w", err)
	}

	if cfg.CoordinationEnabled && cfg.CoordinationDir != "" {
		if err := checkStateDir(logger, cfg.CoordinationDir); err != nil {
			return fmt.Errorf("coordination directory check failed: %w", err)
		}
	}

	if err := checkListenAddr(logger, "api", cfg.APIListen); err != nil {
		return err
	}
	if err := checkListenAddr(logger, "metrics", cfg.MetricsListen); err != nil {
		return err
	}

	if _, err := os.Stat(cfg.WorkspaceFile); errors.Is(err, os.ErrNotExist) {
		logger.Warn().
			Str(log.FieldPath, cfg.WorkspaceFile).
			Msg("workspace file not found; starting with no channels until one appears")
	}

	tempDir := filepath.Clean(os.TempDir())
	stateDir := filepath.Clean(cfg.StateDir)
	if tempDir != "." && (stateDir == tempDir || strings.HasPrefix(stateDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str(log.FieldPath, cfg.StateDir).
			Msg("state directory is under temp; history may be lost on reboot")
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkStateDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", path, err)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str(log.FieldPath, path).Msg("directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, name, addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s listen address %q: %w", name, addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid %s listen port %q in %q", name, port, addr)
	}
	logger.Info().Str("addr", addr).Msgf("%s listen address is valid", name)
	return nil
}
