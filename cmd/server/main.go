package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"basinflow.ai/internal/logging"
	"basinflow.ai/internal/persistence/indexdb"
	persistlog "basinflow.ai/internal/persistence/log"
	"basinflow.ai/internal/session"
	"basinflow.ai/internal/sim/tuning"
	"basinflow.ai/internal/transport/ws"
)

type serverOptions struct {
	Addr       string
	TuningPath string
	DataDir    string
	DisableDB  bool
	Debug      bool
	LogFile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &serverOptions{}
	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Serve water redistribution simulations over WebSocket",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return run(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.TuningPath, "tuning", "./configs/tuning.yaml", "tuning config path (empty for defaults)")
	cmd.Flags().StringVar(&opts.DataDir, "data", "./data", "data directory for the run journal and index")
	cmd.Flags().BoolVar(&opts.DisableDB, "disable-db", false, "disable the SQLite run index")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "development logging")
	cmd.Flags().StringVar(&opts.LogFile, "log-file", "", "also write JSON logs to this file (rotated)")
	return cmd
}

func run(ctx context.Context, opts *serverOptions) error {
	logger, closeLog, err := logging.New(logging.Options{Debug: opts.Debug, File: opts.LogFile})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	tune, err := tuning.Load(opts.TuningPath)
	if err != nil {
		logger.Error("load tuning", zap.String("path", opts.TuningPath), zap.Error(err))
		return err
	}

	journal := persistlog.NewJournal(opts.DataDir, logger.Named("journal"))
	defer journal.Close()

	var idx *indexdb.SQLiteIndex
	if !opts.DisableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(opts.DataDir, "index", "basinflow.sqlite"), logger.Named("index"))
		if err != nil {
			logger.Error("open index", zap.Error(err))
			return err
		}
		defer idx.Close()
	}

	recorders := []session.Recorder{journal}
	if idx != nil {
		recorders = append(recorders, idx)
	}
	wsSrv := ws.NewServer(ws.Config{
		Tuning:   tune,
		Recorder: session.MultiRecorder(recorders...),
		Logger:   logger.Named("ws"),
	})

	a := &app{
		ws:           wsSrv,
		index:        idx,
		journal:      journal,
		log:          logger,
		adminEnabled: defaultEnableAdminHTTP(),
	}
	if !a.adminEnabled {
		logger.Info("admin endpoints disabled", zap.String("deploy_env", os.Getenv("DEPLOY_ENV")))
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening",
		zap.String("addr", opts.Addr),
		zap.Float64("dt_hours", tune.DtHours),
		zap.Duration("tick_interval", tune.TickInterval()),
	)
	err = srv.ListenAndServe()
	// Hijacked WebSocket connections are not covered by http.Server.Shutdown.
	wsSrv.Shutdown()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listen", zap.Error(err))
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("stopped")
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
