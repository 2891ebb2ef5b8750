package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ayusman/produkscan/internal/classify"
	"github.com/ayusman/produkscan/internal/config"
	"github.com/ayusman/produkscan/internal/logger"
)

const usage = `ProdukScan - hand-held product recognition

Usage:
  produkscan [-config FILE] <command> [flags]

Commands:
  classify [-mode list|top1] [-save-crop DIR] FILE...   classify image files
  snap [-camera 0|1]                                    classify one camera frame
  serve                                                 run the HTTP API
  bot                                                   run the Telegram bot
  history [-limit N]                                    show recent detections
`

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("produkscan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "", "YAML config file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}
	name, rest := fs.Arg(0), fs.Args()[1:]

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitFailure
	}

	if err := initLogger(cfg); err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return exitFailure
	}
	defer logger.Sync()
	defer classify.ShutdownRuntime()

	code, err := cmd(&env{cfg: cfg, stdout: stdout, stderr: stderr}, rest)
	if err != nil {
		logger.Log().Error("command failed", zap.String("command", name), zap.Error(err))
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
	}
	return code
}

func initLogger(cfg *config.Config) error {
	opts := logger.Options{Development: cfg.Logging.Debug}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			return err
		}
		opts.Files = append(opts.Files, cfg.Logging.File)
	}
	return logger.Init(opts)
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.produkscan/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".produkscan", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
