package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kojan/daiyousei/app/builtin"
	"github.com/kojan/daiyousei/client"
	"github.com/kojan/daiyousei/daemon"
	"github.com/kojan/daiyousei/envelope"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "daiyousei",
		Usage: "run in-process applications over a Unix socket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "socket",
				Usage:   "Path of the daemon's Unix socket.",
				EnvVars: []string{"DAIYOUSEI_UNIX_SOCKET"},
				Value:   daemon.DefaultSocketPath,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "One of [debug,info,warn,error].",
				EnvVars: []string{"DAIYOUSEI_LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "One of [console,json].",
				EnvVars: []string{"DAIYOUSEI_LOG_FORMAT"},
				Value:   "console",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			runCommand(),
		},
	}
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(ctx *cli.Context) (*zap.Logger, zapcore.Level, error) {
	return buildLogger(ctx.String("log-level"), ctx.String("log-format"))
}

// buildLogger builds a console (development) or json (production) logger at the given level.
func buildLogger(levelStr, format string) (*zap.Logger, zapcore.Level, error) {
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		return nil, level, fmt.Errorf("parsing log level: %w", err)
	}
	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, level, fmt.Errorf("unsupported log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return nil, level, fmt.Errorf("building logger: %w", err)
	}
	return logger, level, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the daemon",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "session-timeout",
				Usage:   "Maximum lifetime of a session, 0 for no limit.",
				EnvVars: []string{"DAIYOUSEI_SESSION_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "gateway-addr",
				Usage:   "If set, also serve sessions over WebSocket on this TCP address, e.g. 127.0.0.1:8080.",
				EnvVars: []string{"DAIYOUSEI_GATEWAY_ADDR"},
			},
		},
		Action: func(ctx *cli.Context) error {
			logger, level, err := newLogger(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()

			socketPath := ctx.String("socket")
			if !ctx.IsSet("socket") {
				logger.Sugar().Infow("DAIYOUSEI_UNIX_SOCKET not set, using default", "Path", socketPath)
			}

			srv, err := daemon.NewServer(
				builtin.Registry(),
				daemon.WithLogger(logger),
				daemon.WithLogLevel(level),
				daemon.WithSocketPath(socketPath),
				daemon.WithSessionTimeout(ctx.Duration("session-timeout")),
				daemon.WithGatewayAddr(ctx.String("gateway-addr")),
			)
			if err != nil {
				return fmt.Errorf("building daemon: %w", err)
			}
			return srv.ListenAndServe(ctx.Context)
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run a program through the daemon, wired to this process's stdio",
		ArgsUsage: "-- PROG [ARGS...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "cwd",
				Usage: "Working directory of the program. Defaults to the current directory.",
			},
			&cli.StringSliceFlag{
				Name:    "env",
				Aliases: []string{"e"},
				Usage:   "Extra environment variable K=V, may be repeated.",
			},
			&cli.BoolFlag{
				Name:  "inherit-env",
				Usage: "Send this process's environment along with the extra variables.",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "Connect to a gateway session URL (ws://host:port/session) instead of the Unix socket.",
			},
		},
		Action: func(ctx *cli.Context) error {
			argv := ctx.Args().Slice()
			if len(argv) == 0 {
				return errors.New("missing program to run")
			}
			logger, _, err := newLogger(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()
			clientLog := logger.Sugar()

			cwd := ctx.String("cwd")
			if cwd == "" {
				if cwd, err = os.Getwd(); err != nil {
					return fmt.Errorf("getting working directory: %w", err)
				}
			}
			var env envelope.Env
			if ctx.Bool("inherit-env") {
				env = envelope.ParseEnv(os.Environ())
			}
			env = append(env, envelope.ParseEnv(ctx.StringSlice("env"))...)

			var c *client.Client
			if url := ctx.String("url"); url != "" {
				c = client.NewWebSocketClient(url, clientLog)
			} else {
				c = client.NewUnixClient(ctx.String("socket"), clientLog)
			}

			res, err := c.Run(ctx.Context, client.Request{
				Argv:   argv,
				Cwd:    cwd,
				Env:    env,
				Stdin:  os.Stdin,
				Stdout: os.Stdout,
				Stderr: os.Stderr,
			})
			if err != nil {
				return fmt.Errorf("running %s: %w", argv[0], err)
			}
			if res.ExitCode != 0 {
				return cli.Exit("", res.ExitCode)
			}
			return nil
		},
	}
}
