package server

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/config"
)

// WSUpgrader handles WebSocket upgrades (configure CORS/security as needed).
var WSUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the deployment domain is fixed
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// NewHTTPServer wires the engine's own listener: health, metrics and the
// quiz WebSocket endpoint. It runs on a port distinct from the web app.
func NewHTTPServer(cfg *config.App, logger zerolog.Logger, pool *pgxpool.Pool, rdb *redis.Client, registry *prometheus.Registry, quizWSHandler http.HandlerFunc) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pingDependencies(r.Context(), pool, rdb); err != nil {
			logger.Error().Err(err).Msg("dependency ping failed")
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/ws", quizWSHandler)

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
}

func pingDependencies(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client) error {
	if err := pool.Ping(ctx); err != nil {
		return err
	}
	return rdb.Ping(ctx).Err()
}
