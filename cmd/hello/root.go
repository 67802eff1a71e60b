package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mnehpets/hello/config"
	"github.com/mnehpets/hello/logging"
	"github.com/mnehpets/hello/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	v := viper.New()
	var (
		cfgFile  string
		envFiles []string
	)

	serve := func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), v, cfgFile, envFiles)
	}

	rootCmd := &cobra.Command{
		Use:   "hello",
		Short: "Greet users over HTTP",
		Long:  `hello listens on a loopback address and answers POST / requests
carrying {"username": "..."} with the plain-text body "Hello <username>".

Settings come from flags, HELLO_* environment variables (also read from .env),
or a hello.yaml config file.`,
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         serve,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./hello.yaml if present)")
	flags.StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default is ./.env if present)")

	d := config.Default()
	flags.String(config.KeyHost, d.Host, "listen host")
	flags.IntP(config.KeyPort, "p", d.Port, "listen port")
	flags.String(config.KeyLogLevel, d.LogLevel, "log level (debug, info, warn, error)")
	flags.String(config.KeyLogFormat, d.LogFormat, "log format (console, json)")
	flags.String(config.KeyMetricsAddr, d.MetricsAddr, "address for the Prometheus /metrics listener (disabled when empty)")
	flags.Int64(config.KeyMaxBodyBytes, d.MaxBodyBytes, "maximum request body size in bytes")
	flags.Duration(config.KeyReadTimeout, d.ReadTimeout, "HTTP read timeout")
	flags.Duration(config.KeyWriteTimeout, d.WriteTimeout, "HTTP write timeout")
	flags.Duration(config.KeyIdleTimeout, d.IdleTimeout, "HTTP idle timeout")
	flags.Duration(config.KeyShutdownTimeout, d.ShutdownTimeout, "graceful shutdown timeout")

	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "env-file" {
			return
		}
		_ = v.BindPFlag(f.Name, f)
	})

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server (the default action)",
			Args:  cobra.NoArgs,
			RunE:  serve,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "hello %s\n", version)
			},
		},
	)
	return rootCmd
}

func runServe(ctx context.Context, v *viper.Viper, cfgFile string, envFiles []string) error {
	cfg, err := config.Load(v, cfgFile, envFiles...)
	if err != nil {
		return err
	}

	logger, sync, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = sync() }()

	reg := server.NewRegistry()
	srv := server.New(cfg, server.NewHandler(cfg, logger, reg), reg, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Sugar().Infof("served for %s", time.Since(start).Round(time.Second))
	return nil
}
