package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rtclient/internal/config"
	"rtclient/internal/plugin"
	"rtclient/internal/session"
)

type globalFlags struct {
	configPath  string
	metricsAddr string
	timeout     time.Duration
}

func main() {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "rtclient",
		Short:         "Realtime client for document servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "config.json", "path to config file (.json or .toml)")
	rootCmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "connection and request timeout")

	rootCmd.AddCommand(
		queryCmd(flags),
		subscribeCmd(flags),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// client bundles an open session with the components built around it
type client struct {
	cfg     *config.Config
	logger  zerolog.Logger
	session *session.Session
	plugins *plugin.Manager
	metrics *http.Server
}

// openClient loads the config, connects a session and logs in when
// credentials are configured
func openClient(ctx context.Context, flags *globalFlags) (*client, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.LogLevel)
	logger.Info().
		Str("config", flags.configPath).
		Str("url", cfg.URL).
		Str("offlineMode", string(cfg.OfflineMode)).
		Msg("starting rtclient")

	c := &client{cfg: cfg, logger: logger}

	reg := prometheus.NewRegistry()
	opts := cfg.SessionOptions()
	opts.Connect = session.ConnectManual
	opts.Metrics = session.NewMetrics(reg, "")

	if cfg.IsPluginsEnabled() {
		c.plugins = plugin.NewManager(logger)
		c.plugins.SetTimeout(cfg.GetPluginTimeoutDuration())
		if err := c.plugins.LoadFromDirectory(cfg.GetPluginDirectory()); err != nil {
			return nil, fmt.Errorf("failed to load plugins: %w", err)
		}
		opts.QueueFilter = c.plugins.QueueFilter()
	}

	addr := flags.metricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	if addr != "" {
		c.metrics = serveMetrics(addr, reg, logger)
	}

	s, err := session.Open(cfg.URL, opts, logger)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	c.session = s

	if err := c.connect(ctx, flags.timeout); err != nil {
		c.close()
		return nil, err
	}
	if cfg.HasLogin() {
		if err := c.login(ctx, flags.timeout); err != nil {
			c.close()
			return nil, err
		}
	}
	return c, nil
}

func (c *client) connect(ctx context.Context, timeout time.Duration) error {
	done := make(chan error, 1)
	if err := c.session.Connect(ctx, func(err error) { done <- err }); err != nil {
		return err
	}
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	case <-time.After(timeout):
		return errors.New("timed out connecting")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) login(ctx context.Context, timeout time.Duration) error {
	l := c.cfg.Login
	done := make(chan error, 1)
	err := c.session.Login(l.Strategy, l.Credentials, l.GetExpiresInDuration(), func(_ string, err error) {
		done <- err
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to login: %w", err)
		}
		c.logger.Info().Str("strategy", l.Strategy).Msg("logged in")
		return nil
	case <-time.After(timeout):
		return errors.New("timed out logging in")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) close() {
	if c.session != nil {
		c.session.Disconnect()
	}
	if c.plugins != nil {
		c.plugins.Close()
	}
	if c.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.metrics.Shutdown(ctx); err != nil {
			c.logger.Error().Err(err).Msg("error during metrics shutdown")
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	// logs go to stderr so stdout carries only results
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
