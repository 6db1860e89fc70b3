package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ppm/src/config"
	"ppm/src/database"
	"ppm/src/tokenizer"
)

// Run starts the daemon and blocks until SIGINT or SIGTERM. SIGHUP reloads
// the settings file at configPath.
func Run(configPath string, settings *config.Settings, logger *zap.Logger, opts ...ServerOption) error {
	pidPath := settings.Daemon.PIDFile
	if err := writePidFile(pidPath); err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(settings.Database.Path), 0o755); err != nil {
		return err
	}
	store, err := database.Open(ctx, settings.Database.Path, database.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	counter, closeCache, err := tokenizer.NewServiceFromConfig(settings.Tokenizer, logger)
	if err != nil {
		return fmt.Errorf("failed to set up tokenizer: %w", err)
	}
	defer closeCache()

	server, err := NewServer(ctx, store, counter, settings, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("daemon started",
		zap.Int("pid", os.Getpid()),
		zap.String("socket", server.SocketPath()),
		zap.String("database", store.Path()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, reloading configuration")
			next, err := config.LoadSettings(configPath)
			if err != nil {
				logger.Warn("failed to reload config", zap.Error(err))
				continue
			}
			server.Reload(next)
			logger.Info("configuration reloaded")
			continue
		}

		logger.Info("shutting down", zap.Stringer("signal", sig))
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := server.Stop(stopCtx)
		cancel()
		return err
	}
	return nil
}

// IsRunning checks the pid file and reports whether its process is alive.
// A stale pid file is removed.
func IsRunning(pidPath string) (bool, int) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	if err := process.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)
		return false, 0
	}

	return true, pid
}

// Stop sends SIGTERM to pid, killing it if it is still alive after the
// grace period.
func Stop(pid int, pidPath string, logger *zap.Logger) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := process.Signal(syscall.Signal(0)); err != nil {
			os.Remove(pidPath)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	logger.Warn("graceful shutdown timed out, forcing kill", zap.Int("pid", pid))
	if err := process.Kill(); err != nil {
		return fmt.Errorf("failed to kill process: %w", err)
	}

	os.Remove(pidPath)
	return nil
}

func writePidFile(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}
