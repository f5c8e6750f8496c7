package routes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"codice/gateway/middleware"
)

// ErrRPCHandlerRequired is returned when the router is built without the
// JSON-RPC endpoint.
var ErrRPCHandlerRequired = errors.New("routes: rpc handler required")

type Config struct {
	RPC           http.Handler
	HealthHandler http.Handler
	RateLimiter   *middleware.RateLimiter
	RateLimitKey  string
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

func New(cfg Config) (http.Handler, error) {
	if cfg.RPC == nil {
		return nil, ErrRPCHandlerRequired
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability

	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Method(http.MethodGet, "/healthz", health)

	r.Route("/rpc", func(sr chi.Router) {
		if obs != nil {
			sr.Use(obs.Middleware("rpc"))
		}
		key := cfg.RateLimitKey
		if key == "" {
			key = "rpc"
		}
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware(key))
		}
		sr.Handle("/", cfg.RPC)
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}
