// Package main is the entry point for the Tundra CLI
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/run"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/tundra/internal/config"
	"github.com/cloud-shuttle/tundra/internal/log"
	loglogrus "github.com/cloud-shuttle/tundra/internal/log/logrus"
)

// Version is the application version (set via ldflags)
var Version = "dev"

// app is the state shared by every command once flags are parsed
type app struct {
	configPath string
	debug      bool
	logFormat  string

	cfg    *config.Config
	logger log.Logger
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tundra",
		Short: "Run coding agents through a task pipeline",
		Long: `Tundra drives tasks through discovery, planning, coding, QA and merging
with coding-agent CLIs running in pseudo-terminals. Every lifecycle event is
journaled so runs can be inspected afterwards.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = a.debug
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = a.logFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a.cfg = cfg
			a.logger = getLogger(cfg, a.stderr)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.StringVar(&a.logFormat, "log-format", "text", "log format: text or json")

	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)
	rootCmd.AddCommand(
		runCmd(a),
		eventsCmd(a),
		agentsCmd(a),
	)

	return rootCmd
}

// Run runs the main application
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{logger: log.Noop, stdout: stdout, stderr: stderr}
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args[1:])

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				return rootCmd.ExecuteContext(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// getLogger returns the application logger
func getLogger(cfg *config.Config, out io.Writer) log.Logger {
	logrusLog := logrus.New()
	logrusLog.Out = out
	entry := logrus.NewEntry(logrusLog)

	if cfg.Debug {
		entry.Logger.SetLevel(logrus.DebugLevel)
	}

	switch cfg.LogFormat {
	case "json":
		entry.Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		entry.Logger.SetFormatter(&logrus.TextFormatter{})
	}

	logger := loglogrus.NewLogrus(entry).WithValues(log.Kv{"version": Version})
	logger.Debugf("debug level is enabled")

	return logger
}

func main() {
	if err := Run(context.Background(), os.Args, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
