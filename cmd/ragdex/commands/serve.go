package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jskala/ragdex/internal/logging"
	"github.com/jskala/ragdex/internal/server"
)

// NewServeCmd constructs the `ragdex serve` command, which starts the HTTP
// server exposing the ingestion, query and deletion endpoints.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragdex HTTP server",
		Long: `Start the ragdex HTTP server on localhost.

The server exposes a REST API for loading documents into per-tenant
vector indexes and answering questions against them. Model clients and
the store connection are constructed on first use and offloaded after
IDLE_OFFLOAD_MINUTES without traffic.

Examples:
  ragdex serve
  ragdex serve --port 9090
  VECTOR_STORE=sqlite SQLITE_PATH=./ragdex.db ragdex serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Flags win over env; env wins over the built-in defaults.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("RAGDEX_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("RAGDEX_PORT", port)
			}

			log.Info("serve starting",
				slog.String("store", getEnvOrDefault("VECTOR_STORE", "qdrant")),
				slog.String("model_provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")),
			)

			rt, err := newRuntime(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rt.Close()

			rt.Manager.Start(ctx)

			pingers := []server.Pinger{
				server.PingFunc{Label: "store", Fn: func(ctx context.Context) error {
					// A probe tenant touches the collection path end to end.
					_, err := rt.Store.EnsureCollection(ctx, "readiness_probe")
					return err
				}},
			}

			srv, err := server.New(rt.Pipeline, rt.Chain, rt.Store, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("RAGDEX_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
