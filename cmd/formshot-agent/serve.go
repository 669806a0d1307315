package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vincentbai/formshot-agent/internal/agent"
	"github.com/vincentbai/formshot-agent/internal/server"
	"github.com/vincentbai/formshot-agent/internal/snapshot"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent and its HTTP API",
	Long: `Attaches the configured targets and serves the shot store and the
agent message protocol over HTTP until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	confirm := snapshot.NeverConfirm
	if cfg.Restore.ConfirmMismatch {
		confirm = snapshot.AlwaysConfirm
	}
	a := agent.New(logger, confirm)

	browsers := newBrowser()
	defer browsers.Close()
	open := func(ctx context.Context, pageURL string) (snapshot.Document, error) {
		page, err := browsers.Tab(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		return page, nil
	}

	srv := server.NewServer(db, a, open, logger, cfg.Address)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n := attachTargets(gctx, a, open, cfg.Targets)
		logger.Info("serve: targets attached", zap.Int("attached", n), zap.Int("configured", len(cfg.Targets)))
		return nil
	})
	g.Go(func() error {
		return srv.Start(gctx)
	})
	return g.Wait()
}
