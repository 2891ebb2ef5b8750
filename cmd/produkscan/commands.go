package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/ayusman/produkscan/internal/app"
	"github.com/ayusman/produkscan/internal/bot"
	"github.com/ayusman/produkscan/internal/config"
	"github.com/ayusman/produkscan/internal/frame"
	"github.com/ayusman/produkscan/internal/logger"
	"github.com/ayusman/produkscan/internal/pipeline"
	"github.com/ayusman/produkscan/internal/rank"
	"github.com/ayusman/produkscan/internal/server"
	"github.com/ayusman/produkscan/internal/store"
)

type env struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
}

type command func(e *env, args []string) (int, error)

var commands = map[string]command{
	"classify": classifyCmd,
	"snap":     snapCmd,
	"serve":    serveCmd,
	"bot":      botCmd,
	"history":  historyCmd,
}

func (e *env) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// failed reports whether the run ended without a usable answer.
func failed(out *pipeline.Outcome) bool {
	switch out.Status() {
	case pipeline.StatusInvalid, pipeline.StatusFailed:
		return true
	}
	return false
}

func classifyCmd(e *env, args []string) (int, error) {
	fs := e.flags("classify")
	modeFlag := fs.String("mode", string(rank.ModeList), "result mode: list or top1")
	cropDir := fs.String("save-crop", "", "directory to write the classified crops to")
	if err := fs.Parse(args); err != nil {
		return exitUsage, nil
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(e.stderr, "classify: no image files given")
		return exitUsage, nil
	}

	mode, err := rank.ParseMode(*modeFlag)
	if err != nil {
		return exitUsage, err
	}
	if *cropDir != "" {
		if err := os.MkdirAll(*cropDir, 0755); err != nil {
			return exitFailure, err
		}
	}

	a, err := app.New(e.cfg)
	if err != nil {
		return exitFailure, err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	code := exitOK
	for _, path := range fs.Args() {
		out, err := a.ClassifyFile(ctx, path, mode)
		if out == nil {
			fmt.Fprintf(e.stderr, "%s: %v\n", path, err)
			code = exitFailure
			continue
		}

		fmt.Fprintf(e.stdout, "%s\n%s\n\n", path, out.Text())
		if failed(out) {
			code = exitFailure
		}
		if *cropDir != "" && out.Crop.Validate() == nil {
			if err := saveCrop(out.Crop, cropPath(*cropDir, path)); err != nil {
				fmt.Fprintf(e.stderr, "%s: save crop: %v\n", path, err)
				code = exitFailure
			}
		}
		out.Close()
	}
	return code, nil
}

// cropPath names the crop of src inside dir: shelf.png becomes shelf_crop.jpg.
func cropPath(dir, src string) string {
	base := filepath.Base(src)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+"_crop.jpg")
}

func saveCrop(img frame.Image, path string) error {
	data, err := frame.EncodeJPEG(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func snapCmd(e *env, args []string) (int, error) {
	fs := e.flags("snap")
	device := fs.Int("camera", e.cfg.Camera.Device, "camera index: 0 internal, 1 external")
	modeFlag := fs.String("mode", string(rank.ModeTop1), "result mode: list or top1")
	if err := fs.Parse(args); err != nil {
		return exitUsage, nil
	}
	mode, err := rank.ParseMode(*modeFlag)
	if err != nil {
		return exitUsage, err
	}
	e.cfg.Camera.Device = *device

	a, err := app.New(e.cfg)
	if err != nil {
		return exitFailure, err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	out, err := a.ClassifyCamera(ctx, a.Camera(), mode)
	if out == nil {
		return exitFailure, err
	}
	defer out.Close()

	fmt.Fprintln(e.stdout, out.Text())
	if failed(out) {
		return exitFailure, nil
	}
	return exitOK, nil
}

func serveCmd(e *env, args []string) (int, error) {
	if err := e.flags("serve").Parse(args); err != nil {
		return exitUsage, nil
	}

	a, err := app.New(e.cfg)
	if err != nil {
		return exitFailure, err
	}
	defer a.Close()

	webDir := findWebDir()
	if webDir != "" {
		logger.S().Infof("serving static files from %s", webDir)
	}

	srv := server.New(server.Config{
		StaticDir:  webDir,
		Classifier: a,
		Store:      a.Store(),
		Metrics:    a.Metrics(),
	})

	ctx, stop := signalContext()
	defer stop()

	if err := srv.ListenAndServe(ctx, e.cfg.Server.Listen); err != nil {
		return exitFailure, err
	}
	return exitOK, nil
}

func botCmd(e *env, args []string) (int, error) {
	if err := e.flags("bot").Parse(args); err != nil {
		return exitUsage, nil
	}
	if e.cfg.Telegram.Token == "" {
		return exitFailure, fmt.Errorf("%s is required", config.EnvTelegramToken)
	}

	a, err := app.New(e.cfg)
	if err != nil {
		return exitFailure, err
	}
	defer a.Close()

	api, err := bot.NewAPI(e.cfg.Telegram.Token, e.cfg.Telegram.Debug)
	if err != nil {
		return exitFailure, fmt.Errorf("connect to telegram: %w", err)
	}

	var settings bot.Settings
	if s := a.Store(); s != nil {
		settings = s.Settings()
	}

	ctx, stop := signalContext()
	defer stop()

	logger.Log().Info("bot is running")
	if err := bot.New(api, a, settings).Run(ctx); err != nil {
		return exitFailure, err
	}
	return exitOK, nil
}

func historyCmd(e *env, args []string) (int, error) {
	fs := e.flags("history")
	limit := fs.Int("limit", 20, "number of detections to show")
	if err := fs.Parse(args); err != nil {
		return exitUsage, nil
	}
	if e.cfg.Store.Disabled {
		return exitFailure, errors.New("history is disabled in the configuration")
	}

	s, err := store.New(e.cfg.Store.Path)
	if err != nil {
		return exitFailure, err
	}
	defer s.Close()

	detections, err := s.Detections().List(*limit)
	if err != nil {
		return exitFailure, err
	}

	writeHistory(e.stdout, detections)
	return exitOK, nil
}

func writeHistory(w io.Writer, detections []*store.Detection) {
	if len(detections) == 0 {
		fmt.Fprintln(w, "No detections recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tSOURCE\tMODE\tOUTCOME\tPRODUCTS")
	for _, d := range detections {
		products := make([]string, 0, len(d.Products))
		for _, p := range d.Products {
			products = append(products, rank.Product{Label: p.Label, Confidence: float32(p.Confidence)}.String())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			d.ID, d.Source, d.Mode, d.Outcome,
			strings.Join(products, ", "))
	}
	tw.Flush()
}
