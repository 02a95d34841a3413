// Command offload-worker hosts work units for the process and socket
// boundaries.
//
//	offload-worker -stdio                 serve one unit over stdin/stdout
//	offload-worker -listen vsock:5000     serve one unit per connection
//
// In listen mode it can boot as the init process of a microVM guest.
//
// Build with: CGO_ENABLED=0 GOOS=linux go build -o offload-worker ./cmd/offload-worker
package main

import (
	"flag"
	"log"
	"os"

	"github.com/seantiz/offload/internal/capability"
	"github.com/seantiz/offload/internal/config"
	"github.com/seantiz/offload/internal/task/builtin"
	"github.com/seantiz/offload/internal/worker"
)

func main() {
	stdio := flag.Bool("stdio", false, "serve a single work unit over stdin and stdout")
	listen := flag.String("listen", "", "address to accept host connections on: unix:<path>, tcp:<host:port> or vsock:<port>")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// Stdout carries frames in stdio mode.
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	switch {
	case *stdio:
		agent := worker.New(builtin.New(), capability.Builtin(),
			worker.WithLogger(logger),
			worker.WithExitFunc(os.Exit),
		)
		os.Exit(agent.ServeConn(worker.Stdio()))

	case *listen != "":
		worker.PrepareGuest(logger)
		l, err := worker.Listen(*listen)
		if err != nil {
			log.Fatalf("listen: %v", err)
		}
		defer l.Close()

		logger.Info("offload-worker listening", "addr", *listen)
		agent := worker.New(builtin.New(), capability.Builtin(), worker.WithLogger(logger))
		if err := agent.Serve(l); err != nil {
			log.Fatalf("serve: %v", err)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}
