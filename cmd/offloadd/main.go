// Command offloadd serves the delegation API over HTTP. Work runs in the
// local boundary, and also in worker processes or a remote worker agent when
// OFFLOAD_WORKER_PATH or OFFLOAD_WORKER_ADDR is set.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/seantiz/offload/internal/api"
	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/boundary/local"
	"github.com/seantiz/offload/internal/boundary/process"
	"github.com/seantiz/offload/internal/boundary/socket"
	"github.com/seantiz/offload/internal/capability"
	"github.com/seantiz/offload/internal/config"
	"github.com/seantiz/offload/internal/delegate"
	"github.com/seantiz/offload/internal/engine"
	"github.com/seantiz/offload/internal/store"
	"github.com/seantiz/offload/internal/task/builtin"
	"github.com/seantiz/offload/internal/tracing"
	"github.com/seantiz/offload/internal/worker"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("offloadd: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"default_boundary", cfg.DefaultBoundary,
	)

	if cfg.TraceFile != "" {
		if err := tracing.Init("offloadd", version, cfg.TraceFile); err != nil {
			log.Fatalf("failed to initialise tracing: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(ctx); err != nil {
				logger.Error("tracing shutdown", "error", err)
			}
		}()
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	tasks := builtin.New()
	caps := capability.Builtin()

	reg := boundary.NewRegistry(cfg.DefaultBoundary)
	reg.Register(local.New(worker.New(tasks, caps, worker.WithLogger(logger))))
	if cfg.WorkerPath != "" {
		reg.Register(process.New(cfg.WorkerPath, []string{"-stdio"}))
	}
	if cfg.WorkerAddr != "" {
		reg.Register(socket.New(cfg.WorkerAddr))
	}
	if _, err := reg.Resolve(""); err != nil {
		log.Fatalf("default boundary: %v", err)
	}
	logger.Info("boundaries registered", "boundaries", reg.List())

	ctrl := delegate.New(reg,
		delegate.WithTasks(tasks),
		delegate.WithCapabilities(caps),
		delegate.WithDefaultTimeout(cfg.DefaultTimeout),
		delegate.WithLogger(logger),
	)
	eng := engine.NewEngine(ctrl, db, reg.Default(), logger)

	srv := api.NewServer(cfg.ListenAddr, db, reg, tasks, eng, logger)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
