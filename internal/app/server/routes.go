package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"iptoasn/internal/asn"
	"iptoasn/internal/auth"
	"iptoasn/internal/domain"
	"iptoasn/internal/jobs/runtime"
	"iptoasn/internal/snapshot"
)

// Snapshots is what the handlers need from the snapshot controller.
type Snapshots interface {
	Current() *asn.Snapshot
	Reload(ctx context.Context) (snapshot.ReloadResult, error)
	LastReport() (snapshot.LoadReport, bool)
}

type Options struct {
	Snapshots Snapshots
	// AdminSecret enables the /v1/admin routes when non-empty.
	AdminSecret string
	// History lists recent dataset loads; nil when the database is disabled.
	History func(ctx context.Context, limit int) ([]domain.DatasetLoad, error)
	// Instances lists peers sharing the dataset; nil without Redis.
	Instances func(ctx context.Context) ([]runtime.InstanceState, error)
}

type api struct {
	Options
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the HTTP API.
func NewRouter(opts Options) http.Handler {
	a := &api{Options: opts}

	router := http.NewServeMux()
	router.HandleFunc("GET /{$}", index)
	router.HandleFunc("GET /healthz", healthz)
	router.HandleFunc("GET /readyz", a.readyz)
	router.HandleFunc("GET /v1/version", getVersion)
	router.HandleFunc("GET /v1/status", a.getStatus)

	router.HandleFunc("GET /v1/as/ip/{ip}", a.lookupIP)
	router.HandleFunc("GET /v1/as/ip", a.lookupRequester)
	router.HandleFunc("PUT /v1/as/ips", a.lookupBulk)
	router.HandleFunc("GET /v1/as/n/{asn}", a.getAS)
	router.HandleFunc("GET /v1/as/n/{asn}/subnets", a.getASSubnets)
	router.HandleFunc("GET /v1/as/ns", a.listAS)

	if opts.AdminSecret != "" {
		router.Handle("POST /v1/admin/reload", auth.RequireAdmin(opts.AdminSecret, http.HandlerFunc(a.reload)))
		router.Handle("GET /v1/admin/settings", auth.RequireAdmin(opts.AdminSecret, http.HandlerFunc(getSettings)))
		router.Handle("PUT /v1/admin/settings", auth.RequireAdmin(opts.AdminSecret, http.HandlerFunc(saveSettings)))
	} else {
		log.Debug("Admin routes disabled: no admin secret configured")
	}

	log.Debug("Routes opened")
	return enableCORS(router)
}

// OpenRoutes serves handler on addr until ctx is done, then shuts down
// gracefully.
func OpenRoutes(ctx context.Context, addr string, handler http.Handler) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api server listen on %s: %w", addr, err)
	}
	return Serve(ctx, listener, handler)
}

func Serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("api server shutdown", "error", err)
		}
	}()

	log.Info("webservice ready", "addr", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}
