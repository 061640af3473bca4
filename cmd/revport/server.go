package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mossline/revport/internal/api"
	"github.com/mossline/revport/internal/config"
	"github.com/mossline/revport/internal/generation"
	"github.com/mossline/revport/internal/logging"
	"github.com/mossline/revport/internal/notify"
	"github.com/mossline/revport/internal/reminder"
	"github.com/mossline/revport/internal/storage"
	"github.com/mossline/revport/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the revport server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running revport server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show revport system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "revport.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "revport version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Setup(cfg.Log.Level)

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("revport is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("revport is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// SMS delivery is optional; reminders and notifications report
	// not-configured until credentials are set.
	var notifier *notify.TwilioClient
	if cfg.Twilio.Configured() {
		notifier, err = notify.NewTwilioClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber)
		if err != nil {
			return fmt.Errorf("configuring Twilio: %w", err)
		}
		slog.Info("SMS delivery enabled", "from", cfg.Twilio.FromNumber)
	} else {
		slog.Warn("Twilio credentials missing, SMS delivery disabled")
	}

	scheduler := newScheduler(store, notifier, cfg.Portal.URL)

	deps := api.Deps{
		Store:      store,
		Reminders:  scheduler,
		Token:      cfg.Auth.APIToken,
		CronSecret: cfg.Auth.CronSecret,
	}
	if notifier != nil {
		deps.Notifier = notifier
	}

	// Start the generation worker when an OpenAI key is configured; queued
	// jobs wait otherwise.
	if cfg.OpenAI.APIKey != "" {
		gateway, err := generation.NewOpenAIGateway(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		if err != nil {
			return fmt.Errorf("configuring OpenAI gateway: %w", err)
		}
		svc := generation.NewService(gateway)
		var workerNotifier worker.Notifier
		if notifier != nil {
			workerNotifier = notifier
		}
		w := worker.NewWorker(store, svc, workerNotifier, cfg.Portal.URL, 500*time.Millisecond)
		go w.Run(ctx)
		slog.Info("generation worker started", "model", cfg.OpenAI.Model)
	} else {
		slog.Warn("OpenAI API key missing, content generation disabled")
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "revport listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newScheduler keeps the nil-notifier case an untyped nil interface.
func newScheduler(store *storage.Store, notifier *notify.TwilioClient, portalURL string) *reminder.Scheduler {
	if notifier == nil {
		return reminder.New(store, nil, portalURL)
	}
	return reminder.New(store, notifier, portalURL)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("revport is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop revport (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to revport (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Twilio.Configured() {
		printStatus("SMS", "configured (from %s)", cfg.Twilio.FromNumber)
	} else {
		printStatus("SMS", "not configured")
	}
	if cfg.OpenAI.APIKey != "" {
		printStatus("Generation", "configured (%s)", cfg.OpenAI.Model)
	} else {
		printStatus("Generation", "not configured")
	}
	printStatus("Portal URL", "%s", cfg.Portal.URL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
