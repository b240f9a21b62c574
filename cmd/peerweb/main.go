package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peerweb/internal/logging"
	"peerweb/internal/peerweb"
	"peerweb/internal/rewrite"
	"peerweb/internal/site"
	"peerweb/internal/wire"
)

var version = "dev"

var (
	configPath string
	siteFlag   string
	routerURL  string
)

var rootCmd = &cobra.Command{
	Use:           "peerweb",
	Short:         "Virtual origin for content-addressed sites",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the request router, with an in-process host in memory channel mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run a content host that connects to a router over websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of peerweb",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("peerweb version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("PEERWEB_CONFIG"), "path to peerweb.yaml")
	rootCmd.PersistentFlags().StringVar(&siteFlag, "site", "", "site id to load on start")
	hostCmd.Flags().StringVar(&routerURL, "router", "ws://localhost:8080/_peerweb/channel", "router channel url")
	rootCmd.AddCommand(serveCmd, hostCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (peerweb.Config, *zap.Logger, error) {
	cfg, err := peerweb.LoadConfig(configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	if siteFlag != "" {
		cfg.Host.Site = siteFlag
	}
	logger, err := logging.New(cfg.Logging.Config)
	if err != nil {
		return cfg, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func newHost(cfg peerweb.Config, logger *zap.Logger) (*site.Host, site.Store, error) {
	store, err := site.NewStore(cfg.Durable.StoreConfig(), logger.Named("store"))
	if err != nil {
		return nil, nil, fmt.Errorf("init durable cache: %w", err)
	}
	host := site.NewHost(site.HostOptions{
		Namespace: cfg.Server.Namespace,
		Provider:  cfg.Provider.Provider(),
		Store:     store,
		Rewriter: rewrite.New(rewrite.Options{
			Namespace:    cfg.Server.Namespace,
			AllowScripts: cfg.Rewrite.AllowScripts,
		}),
		MaxInlineBytes: cfg.Host.MaxInlineBytes(),
		Logger:         logger,
	})
	return host, store, nil
}

func loadSite(ctx context.Context, host *site.Host, id string, logger *zap.Logger) {
	if id == "" {
		return
	}
	if err := host.Load(ctx, id); err != nil {
		logger.Error("failed to load site", zap.String("site", id), zap.Error(err))
	}
}

func runServe(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	svc, err := peerweb.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	defer svc.Close()

	if cfg.Channel.Mode == "memory" {
		host, store, err := newHost(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		routerEnd, hostEnd := wire.Pipe(cfg.Channel.Buffer)
		defer routerEnd.Close()
		host.Attach(hostEnd)
		svc.Attach(routerEnd)
		go func() {
			if err := host.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("host stopped", zap.Error(err))
			}
		}()
		go loadSite(ctx, host, cfg.Host.Site, logger)
	}

	if cfg.Server.MetricsPort > 0 {
		metricsSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler:           svc.MetricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server error", zap.Error(err))
			}
		}()
		defer metricsSrv.Close()
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		logger.Info("peerweb listening",
			zap.String("addr", addr),
			zap.String("namespace", cfg.Server.Namespace),
			zap.String("channel", cfg.Channel.Mode),
			zap.String("origin", cfg.Server.Origin))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownDuration())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runHost(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	host, store, err := newHost(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var header http.Header
	if cfg.Channel.Token != "" {
		header = http.Header{"Authorization": {"Bearer " + cfg.Channel.Token}}
	}

	backoff := time.Second
	for {
		port, err := wire.Dial(ctx, routerURL, header, logger.Named("channel"))
		if err != nil {
			logger.Warn("router unreachable", zap.String("url", routerURL), zap.Duration("retryIn", backoff), zap.Error(err))
		} else {
			backoff = time.Second
			logger.Info("connected to router", zap.String("url", routerURL))
			host.Attach(port)

			// a restarted router has no session, announce the site again
			active, _ := host.Active()
			if active == "" {
				active = cfg.Host.Site
			}
			go loadSite(ctx, host, active, logger)

			err = host.Run(ctx)
			_ = port.Close()
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("router connection lost", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}
