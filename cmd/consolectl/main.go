package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Gattoajatooo/back-sparta-sub004/pkg/connector"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeyLogger
)

func getConfig(ctx *cli.Context) *connector.Config {
	return ctx.Context.Value(contextKeyConfig).(*connector.Config)
}

func getLogger(ctx *cli.Context) zerolog.Logger {
	return ctx.Context.Value(contextKeyLogger).(zerolog.Logger)
}

func getConfigPath() string {
	baseDir, _ := os.UserConfigDir()
	return filepath.Join(baseDir, "consolectl", "config.yaml")
}

func prepareApp(ctx *cli.Context) error {
	path := ctx.String("config")
	cfg, err := connector.LoadConfig(path, ctx.Bool("upgrade-config"))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no config at %s, run 'consolectl config -o %s' first", path, path)
	} else if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if v := ctx.String("url"); v != "" {
		cfg.Channel.URL = v
	}
	if v := ctx.String("token"); v != "" {
		cfg.Channel.Token = v
	}
	if ctx.Bool("debug") {
		cfg.Channel.Debug = true
		cfg.Logging.Level = "debug"
	}
	if v := ctx.String("log-file"); v != "" {
		cfg.Logging.File = v
	}
	if err = cfg.PostProcess(); err != nil {
		return err
	}
	log, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	newCtx = context.WithValue(newCtx, contextKeyLogger, log)
	ctx.Context = newCtx
	return nil
}

func setupLogger(cfg connector.LogConfig) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	if cfg.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		})
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func main() {
	app := &cli.App{
		Name:    "consolectl",
		Usage:   "Watch and serve a tenant's live conversation events",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   getConfigPath(),
				EnvVars: []string{"CONSOLECTL_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "upgrade-config",
				Usage: "Write missing config keys back to the config file",
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "Override channel.url",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Override channel.token",
				EnvVars: []string{"CONSOLECTL_TOKEN"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log dropped frames and debug messages",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also write JSON logs to this file",
			},
		},
		Commands: []*cli.Command{
			watchCommand,
			serveCommand,
			resolveCommand,
			markersCommand,
			configCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
