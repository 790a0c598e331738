// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/dbilnica/fundwave-dapp/internal/config"
	"github.com/dbilnica/fundwave-dapp/internal/controller"
	"github.com/dbilnica/fundwave-dapp/internal/db"
	"github.com/dbilnica/fundwave-dapp/internal/handler"
	"github.com/dbilnica/fundwave-dapp/internal/media"
	"github.com/dbilnica/fundwave-dapp/internal/metrics"
	"github.com/dbilnica/fundwave-dapp/internal/model"
	"github.com/dbilnica/fundwave-dapp/internal/queue"
	"github.com/dbilnica/fundwave-dapp/internal/repository"
	"github.com/dbilnica/fundwave-dapp/internal/service"
)

const programName = "fundwave-server"

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), "component", programName)
}

var (
	configFile string
	debug      bool
)

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: debug,
		Level:     level,
	}))
	slog.SetDefault(logger)
	return logger
}

func main() {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "Campaign ledger HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			logger := newLogger(debug || cfg.Debug)
			if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to config file to load")
	rootCmd.Flags().BoolVarP(&debug, "debug", "D", false, "enable debug logging")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.LedgerRepositoryInterface, error) {
	switch cfg.Store {
	case config.StorePostgres:
		conn, err := db.Open(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
		return &repository.PostgresLedgerRepository{DB: conn}, nil
	case config.StoreSqlite:
		return repository.NewSqliteLedgerRepository(cfg.SqlitePath)
	default:
		logger.Warn("using in-memory store, state is lost on exit", "component", programName)
		return repository.NewMemoryLedgerRepository(), nil
	}
}

func openPinner(cfg *config.Config, logger *slog.Logger) (media.Pinner, func() error, error) {
	if cfg.PinStore == config.PinStorePinata {
		return media.NewPinataPinner(cfg.PinataAPIURL, cfg.PinataJWT, nil), func() error { return nil }, nil
	}
	p, err := media.NewBadgerPinner(cfg.BadgerDir, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	programID, err := cfg.Program()
	if err != nil {
		return err
	}

	repo, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	q := queue.NewInMemoryQueue(logger)
	defer q.Close()

	if cfg.AMQPURL != "" {
		relay, err := queue.DialAMQPRelay(cfg.AMQPURL, cfg.QueueName, logger)
		if err != nil {
			return err
		}
		defer relay.Close()
		if _, err := q.Subscribe(queue.TopicLedgerEvents, relay.Handle); err != nil {
			return err
		}
		logger.Info("relaying ledger events", "component", programName, "queue", cfg.QueueName)
	} else if len(cfg.WebhookURLs) > 0 {
		// no broker: deliver webhooks from this process
		events := make(chan model.LedgerEvent, 64)
		if _, err := q.Subscribe(queue.TopicLedgerEvents, service.Forward(ctx, events)); err != nil {
			return err
		}
		notifier := service.NewWorker(cfg.WebhookURLs, events, service.HTTPSender(nil), logger)
		go notifier.Start(ctx)
		logger.Info("delivering webhooks in process", "component", programName, "webhooks", len(cfg.WebhookURLs))
	}

	ledger, err := service.NewLedgerService(repo, q, m, logger, service.Options{
		ProgramID:          programID,
		InstructionTTL:     cfg.InstructionTTL,
		MinPledgeLamports:  cfg.MinPledgeLamports,
		AirdropEnabled:     cfg.AirdropEnabled,
		AirdropMaxLamports: cfg.AirdropMaxLamports,
	})
	if err != nil {
		return err
	}
	query := &service.QueryService{Repo: repo}

	pinner, closePinner, err := openPinner(cfg, logger)
	if err != nil {
		return err
	}
	defer closePinner()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	controller.NewLedgerController(ledger, logger).Routes(r)
	handler.NewQueryHandler(query, ledger, logger).Routes(r)
	handler.NewEventsHandler(query, q, logger).Routes(r)
	r.Handle("/files", handler.NewMediaHandler(pinner, m, cfg.MaxUpload, logger))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// streams end when the process is asked to stop
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"component", programName,
			"addr", srv.Addr,
			"program_id", programID.String(),
			"admin_address", ledger.AdminAddress().String(),
			"store", cfg.Store,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down", "component", programName)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
