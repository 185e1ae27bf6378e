// Command timelinectl renders project timelines and edits their status from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"timelineboard/internal/apiclient"
	"timelineboard/internal/board"
	"timelineboard/internal/config"
	"timelineboard/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	backendURL string
	tokenFlag  string
	tokenFile  string
	timeout    time.Duration
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "timelinectl",
	Short:         "Inspect and edit project timelines",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file or directory (optional)")
	pf.StringVar(&backendURL, "backend", os.Getenv("BACKEND_URL"), "project backend base URL")
	pf.StringVar(&tokenFlag, "token", "", "bearer token (defaults to $TIMELINE_TOKEN, then the token file)")
	pf.StringVar(&tokenFile, "token-file", defaultTokenFile(), "file holding the bearer token")
	pf.DurationVar(&timeout, "timeout", 10*time.Second, "backend request timeout")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(renderCmd, statusCmd, deleteCmd, replayCmd, watchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "timelineboard", "token")
}

// loadConfig 读取 --config；未指定时返回 nil
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return nil, nil
	}
	return config.Load(configPath)
}

func newLogger() *zap.Logger {
	if verbose {
		return logger.NewLogger(true)
	}
	return zap.NewNop()
}

// tokenSource --token > $TIMELINE_TOKEN > token 文件
func tokenSource() apiclient.TokenSource {
	sources := []apiclient.TokenSource{
		apiclient.StaticToken(tokenFlag),
		apiclient.StaticToken(os.Getenv("TIMELINE_TOKEN")),
	}
	if tokenFile != "" {
		sources = append(sources, apiclient.FileToken(tokenFile))
	}
	return apiclient.FirstOf(sources...)
}

func newClient(log *zap.Logger) (*apiclient.Client, error) {
	url := backendURL
	if url == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			url = cfg.Backend.URL
		}
	}
	if url == "" {
		return nil, fmt.Errorf("backend URL is required (--backend or $BACKEND_URL)")
	}
	return apiclient.NewClient(url, timeout,
		apiclient.WithTokenSource(tokenSource()),
		apiclient.WithLogger(log),
	), nil
}

func newRegistry(log *zap.Logger) (*board.Registry, error) {
	client, err := newClient(log)
	if err != nil {
		return nil, err
	}
	return board.NewRegistry(client, board.NewLoader(client, nil, log), log), nil
}
