package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dtaas-io/engine/pkg/dbconn"
	"github.com/dtaas-io/engine/pkg/lifecycle"
	"github.com/dtaas-io/engine/pkg/metrics"
	"github.com/dtaas-io/engine/pkg/model"
	"github.com/dtaas-io/engine/pkg/progress"
	"github.com/dtaas-io/engine/pkg/store"
)

// Run is the "run" subcommand: connect to the control-plane store, start
// every continuous/interval-scheduled task, serve Prometheus metrics, and
// block until interrupted. on_demand tasks are triggered by an external
// control plane (spec §1 Non-goals exclude the HTTP/API layer this repo
// would otherwise expose that over), not by dtaasd at startup.
type Run struct {
	StoreDSN    string `help:"MySQL DSN for the control-plane store." env:"DTAAS_STORE_DSN" required:""`
	MetricsAddr string `help:"Address to serve /metrics on." env:"DTAAS_METRICS_ADDR" default:":9090"`
	LogLevel    string `help:"logrus level: debug, info, warn, error." env:"DTAAS_LOG_LEVEL" default:"info"`
}

func (r *Run) Run() error {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(r.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := dbconn.ConnectWithRetry(ctx, "mysql", r.StoreDSN, dbconn.NewConfig(), logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := applySchema(ctx, db); err != nil {
		return err
	}
	st := store.NewMySQLStore(db)

	registry := prometheus.NewRegistry()
	metricsSink := metrics.NewPrometheusSink(registry)
	progressSink := progress.NewMemSink(nil, logger)

	e := &engine{Store: st, Progress: progressSink, Metrics: metricsSink, Logger: logger}
	ctrl := lifecycle.New(st, e.dispatch)
	e.Ctrl = ctrl

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: r.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics server: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	tasks, err := st.ListTasks(ctx)
	if err != nil {
		return err
	}
	for i := range tasks {
		task := tasks[i]
		if task.Schedule == model.ScheduleOnDemand {
			continue
		}
		if err := ctrl.Start(ctx, task.ID); err != nil {
			logger.Errorf("starting task %d (%s): %v", task.ID, task.Name, err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down, stopping running tasks")

	for i := range tasks {
		if tasks[i].Schedule == model.ScheduleOnDemand {
			continue
		}
		_ = ctrl.Stop(context.Background(), tasks[i].ID)
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range splitSchema(store.Schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
