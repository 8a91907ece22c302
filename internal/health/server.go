package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type Checker struct {
	DBPing func(ctx context.Context) error
	// Chains reports per-chain RPC failures keyed by chain id; nil means healthy.
	Chains func(ctx context.Context) map[string]error
}

// Handler returns the /healthz handler. Each chain is reported as "rpc.<id>".
func Handler(checker Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		if checker.DBPing != nil {
			if err := checker.DBPing(ctx); err != nil {
				status["db"] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status["db"] = "ok"
			}
		}
		if checker.Chains != nil {
			for id, err := range checker.Chains(ctx) {
				if err != nil {
					status["rpc."+id] = "fail"
					code = http.StatusServiceUnavailable
				} else {
					status["rpc."+id] = "ok"
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}

// Serve starts /healthz and, when metrics is non-nil, /metrics on addr.
func Serve(addr string, checker Checker, metrics http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", Handler(checker))
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the health server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
