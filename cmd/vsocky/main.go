//go:build linux

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/vsocky/vsocky/agent"
	"github.com/vsocky/vsocky/internal/shutdown"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "vsocky",
		Usage:   "guest agent serving code execution requests over vsock",
		Version: version,
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:    "port",
				Usage:   "The vsock port to listen on. 0 disables the vsock listener.",
				Value:   uint(agent.DefaultPort),
				EnvVars: []string{"VSOCKY_PORT"},
			},
			&cli.StringFlag{
				Name:    "ws-listen-addr",
				Usage:   "TCP address for the websocket transport. Empty disables it.",
				EnvVars: []string{"VSOCKY_WS_LISTEN_ADDR"},
			},
			&cli.StringFlag{
				Name:    "debug-listen-addr",
				Usage:   "TCP address for the HTTP debug server. Empty disables it.",
				EnvVars: []string{"VSOCKY_DEBUG_LISTEN_ADDR"},
			},
			&cli.DurationFlag{
				Name:  "exec-timeout",
				Usage: "Default execution deadline for requests that don't set one.",
				Value: 30 * time.Second,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Minimum log level. One of [debug,info,warn,error].",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:  "json-logs",
				Usage: "Emit logs as JSON instead of console format.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx *cli.Context) error {
	level, err := zapcore.ParseLevel(ctx.String("log-level"))
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	var logger *zap.Logger
	if ctx.Bool("json-logs") {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		logger, err = cfg.Build()
	} else {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		logger, err = cfg.Build()
	}
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	a, err := agent.New(
		agent.WithPort(uint32(ctx.Uint("port"))),
		agent.WithWSListenAddr(ctx.String("ws-listen-addr")),
		agent.WithDebugListenAddr(ctx.String("debug-listen-addr")),
		agent.WithExecTimeout(ctx.Duration("exec-timeout")),
		agent.WithVersion(version),
		agent.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("building agent: %w", err)
	}

	shutdown.Setup()
	go func() {
		<-shutdown.Done()
		logger.Sugar().Infof("shutdown requested")
		a.Stop()
	}()

	return a.Run()
}
