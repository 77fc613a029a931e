package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/linkcap/linkcap/internal/config"
	"github.com/linkcap/linkcap/internal/logger"
	"github.com/linkcap/linkcap/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the linkcap service",
	Long: `Start the linkcap capture service in the foreground.
The service exposes the session capture API and runs until interrupted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Refuse to start a second instance
	pidFile := resolvePIDFilePath()
	if isRunning(pidFile) {
		return fmt.Errorf("service is already running (PID file: %s)", pidFile)
	}

	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// The flag wins over the file only when explicitly set
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	svc, err := service.New(cfg, log, loader.GetConfigPath())
	if err != nil {
		return err
	}

	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	svc.Wait()

	return nil
}

// resolvePIDFilePath derives the PID file location from the configured data
// directory, falling back to the default when the config cannot be read.
func resolvePIDFilePath() string {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil || cfg.DataDir == "" {
		return getPIDFilePath()
	}
	return filepath.Join(cfg.DataDir, "linkcap.pid")
}

func getPIDFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/linkcap.pid"
	}
	return filepath.Join(home, ".linkcap", "linkcap.pid")
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}

	return pid, nil
}

func isRunning(pidFile string) bool {
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		return false
	}

	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	// Check if process exists
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so probe with signal 0
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
