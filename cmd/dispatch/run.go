package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/ohowland/cgc_dispatch/internal/pkg/database/mongodb"
	"github.com/ohowland/cgc_dispatch/internal/pkg/database/sqldb"
	"github.com/ohowland/cgc_dispatch/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/cgc_dispatch/internal/pkg/dispatch"
	"github.com/ohowland/cgc_dispatch/internal/pkg/metrics"
	"github.com/ohowland/cgc_dispatch/internal/pkg/system"
	"github.com/ohowland/cgc_dispatch/internal/pkg/webservice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Solve the routine and write results back to the case",
	RunE:  runDispatch,
}

func init() {
	runCmd.Flags().Int("period", 0, "slot written back for multi-period routines (negative counts from the end)")
	runCmd.Flags().Duration("every", 0, "re-run on this interval until interrupted")
	runCmd.Flags().String("nats", "", "NATS server URL for result publishing")
	runCmd.Flags().String("mongo", "", "MongoDB URI for result storage")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().String("http", "", "serve the routine API on this address")
	runCmd.Flags().String("sql-driver", "", "SQL driver for result storage: mysql or postgres")
	runCmd.Flags().String("sql-dsn", "", "SQL data source name")
}

func buildRoutine(cfg appConfig, opts ...dispatch.Option) (*dispatch.Routine, error) {
	c, err := system.LoadCase(cfg.Case)
	if err != nil {
		return nil, err
	}
	sys, err := system.Build(c)
	if err != nil {
		return nil, err
	}
	return routines[cfg.Routine](sys, cfg.Dispatch, opts...)
}

func serve(ctx context.Context, name, addr string, h http.Handler) {
	log := logr.FromContextOrDiscard(ctx).WithName(name)
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	go func() {
		log.Info("serving", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "listen")
		}
	}()
}

func runDispatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, cfgFile)
	if err != nil {
		return err
	}
	log := newLogger(verbosity).WithName("Main")
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logr.NewContext(ctx, log)

	var opts []dispatch.Option
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, dispatch.WithRecorder(metrics.New(reg)))
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		serve(ctx, "metrics", cfg.MetricsAddr, mux)
	}

	r, err := buildRoutine(cfg, opts...)
	if err != nil {
		return err
	}
	log.Info("routine built", "routine", r.Name(), "pid", r.PID().String(), "case", cfg.Case)
	if cfg.HTTPAddr != "" {
		serve(ctx, "http", cfg.HTTPAddr, webservice.New(r, log).Router())
	}

	var (
		pids  []uuid.UUID
		sinks []func()
	)
	defer func() {
		// closing the subscriptions lets each sink drain and return
		for _, pid := range pids {
			r.Unsubscribe(pid)
		}
		for _, wait := range sinks {
			wait()
		}
	}()
	if cfg.NATS.Server != "" {
		h, err := natshandler.New(cfg.NATS, r)
		if err != nil {
			return err
		}
		pids = append(pids, h.PID())
		sinks = append(sinks, startSink(ctx, h.Process))
	}
	if cfg.Mongo.URI != "" {
		h, err := mongodb.New(ctx, cfg.Mongo, r)
		if err != nil {
			return err
		}
		pids = append(pids, h.PID())
		sinks = append(sinks, startSink(ctx, h.Process))
	}
	if cfg.SQL.Driver != "" {
		h, err := sqldb.New(ctx, cfg.SQL, r)
		if err != nil {
			return err
		}
		pids = append(pids, h.PID())
		sinks = append(sinks, startSink(ctx, h.Process))
	}

	if cfg.Every > 0 {
		err := dispatch.Loop(ctx, r, cfg.Every, dispatch.RunOptions{}, nil)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	if err := r.Run(ctx, dispatch.RunOptions{}); err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary(r))
}

func startSink(ctx context.Context, process func(context.Context)) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		process(ctx)
	}()
	return func() { <-done }
}

type runSummary struct {
	Routine    string                 `json:"routine"`
	Status     string                 `json:"status"`
	Objective  float64                `json:"objective"`
	Iterations int                    `json:"iterations"`
	Runtime    string                 `json:"runtime"`
	Vars       map[string][][]float64 `json:"vars"`
}

func summary(r *dispatch.Routine) runSummary {
	res := r.Result()
	s := runSummary{
		Routine:    r.Name(),
		Status:     res.Status.String(),
		Objective:  res.Objective,
		Iterations: res.Iterations,
		Runtime:    res.Runtime.String(),
		Vars:       make(map[string][][]float64),
	}
	for _, b := range r.Program().Columns {
		if v, err := r.Values(b.Name); err == nil {
			s.Vars[b.Name] = v
		}
	}
	return s
}
