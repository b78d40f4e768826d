package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/server"
	"github.com/amoylab/authcore/pkg/helper"
	"github.com/amoylab/authcore/pkg/logger"
	"github.com/amoylab/authcore/pkg/trace"
	"github.com/amoylab/authcore/pkg/utils"
	"github.com/amoylab/authcore/pkg/version"
)

var (
	configPath string
	pidFile    string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of authserver",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("authserver version %s\n", version.Get())
		},
	}

	reloadCmd = &cobra.Command{
		Use:   "reload",
		Short: "Reload the authorization metadata of a running authserver",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pidFile
			if path == "" {
				cfg, _, err := config.LoadConfig(configPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				path = cfg.Server.PID
			}
			if err := utils.NewPIDFile(helper.GetPIDPath(path)).Signal(syscall.SIGHUP); err != nil {
				return err
			}
			fmt.Println("reload signal sent")
			return nil
		},
	}

	rootCmd = &cobra.Command{
		Use:   "authserver",
		Short: "OAuth2 authorization server",
		Long:  `authserver issues and introspects OAuth2 tokens and guards resources by authority`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "authserver.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&pidFile, "pid", "", "path to PID file, overrides server.pid")
	rootCmd.AddCommand(versionCmd, reloadCmd)
}

func run() error {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", cfgPath, err)
	}
	if pidFile != "" {
		cfg.Server.PID = pidFile
	}

	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	lg.Info("starting authserver",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP must be caught before the PID file is written
	hup, stopHup := notifyReload()
	defer stopHup()

	if cfg.Tracing.Enabled {
		shutdown, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	srv, err := server.New(lg, cfg, server.NewClock(cfg.Server.Location()))
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			lg.Error("failed to close storage", zap.Error(err))
		}
	}()
	if err := srv.Start(ctx); err != nil {
		return err
	}

	pid := utils.NewPIDFile(helper.GetPIDPath(cfg.Server.PID))
	if err := pid.Write(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() { _ = pid.Remove() }()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	srv.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		lg.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	for {
		select {
		case <-hup:
			lg.Info("received SIGHUP, reloading authorization metadata")
			if err := srv.Metadata.Reload(ctx); err != nil {
				lg.Error("reload failed", zap.Error(err))
			}
		case err := <-errCh:
			return err
		case <-ctx.Done():
			lg.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(sctx)
		}
	}
}

func notifyReload() (<-chan os.Signal, func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	return hup, func() { signal.Stop(hup) }
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
