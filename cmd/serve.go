package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mirrorctl/internal/daemon"
	"mirrorctl/internal/db"
	"mirrorctl/internal/kube"
	"mirrorctl/internal/logger"
	"mirrorctl/internal/manager"
	"mirrorctl/internal/tail"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveInit bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API daemon",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	defer logger.Sync()
	defer func() {
		_ = db.Close()
	}()

	kc, err := kube.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	mc := manager.New(cfg.Manager.API(), cfg.Timeout)
	jm := daemon.NewJobManager(cfg, kc, mc, tail.New(cfg.LogRoot))

	if serveInit {
		if r := jm.Init(cmd.Context()); !r.OK() {
			logger.Log.Warn("failed to init manager",
				zap.String("reason", r.Message),
				zap.Strings("failed", r.Failed))
		}
	}

	srv := daemon.NewServer(jm, cfg.Listen)
	srv.Start()

	logger.Log.Info("mirrorctl daemon started",
		zap.String("listen", cfg.Listen),
		zap.String("namespace", cfg.Namespace),
		zap.String("manager", cfg.Manager.API()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Log.Info("shutting down",
		zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

func init() {
	serveCmd.Flags().BoolVar(&serveInit, "init", true, "deploy the tunasync manager on startup when missing")
	rootCmd.AddCommand(serveCmd)
}
