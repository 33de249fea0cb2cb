// Package doomsdayserver exposes the Core over the HTTP API: cache
// listing, on-demand refresh, scheduler status, and session auth.
package doomsdayserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/doomsday-project/doomsday/internal/doomsdayauth"
	"github.com/doomsday-project/doomsday/internal/doomsdaycore"
	"github.com/doomsday-project/doomsday/internal/doomsdayerr"
	"github.com/doomsday-project/doomsday/internal/duration"
)

const tokenCookieName = "doomsday-token"
const tokenHeaderName = "X-Doomsday-Token"

// Version is reported by /v1/info. The server subcommand sets it from
// the version package at startup.
var Version = "unknown"

// Server wires the Core and an auth Provider to the HTTP API
// described by the external interface.
type Server struct {
	logger hclog.Logger
	core   *doomsdaycore.Core
	auth   doomsdayauth.Provider

	httpServer *http.Server
}

// New builds a Server listening on addr.
func New(logger hclog.Logger, core *doomsdaycore.Core, auth doomsdayauth.Provider, addr string) *Server {
	s := &Server{logger: logger.Named("server"), core: core, auth: auth}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/info", s.handleInfo)
	mux.HandleFunc("/v1/auth", s.handleAuth)
	mux.HandleFunc("/v1/cache", s.requireAuth(s.handleCache))
	mux.HandleFunc("/v1/cache/refresh", s.requireAuth(s.handleCacheRefresh))
	mux.HandleFunc("/v1/scheduler", s.requireAuth(s.handleScheduler))

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run serves until ctx is cancelled, then drains within a bounded
// shutdown window.
func (s *Server) Run(ctx context.Context) error {
	return RunHTTPServer(ctx, s.logger, s.httpServer, 10*time.Second)
}

// RunHTTPServer runs srv until ctx is cancelled, then gives it
// shutdownTimeout to drain in-flight requests before returning.
func RunHTTPServer(ctx context.Context, logger hclog.Logger, srv *http.Server, shutdownTimeout time.Duration) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down http server", "error", err)
		}
	}()
	defer wg.Wait()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":      Version,
		"authRequired": s.auth.RequiresAuth(),
	})
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, doomsdayerr.New(doomsdayerr.InvalidInput, "method not allowed"))
		return
	}

	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, doomsdayerr.Wrap(doomsdayerr.Serialization, err))
		return
	}

	token, expiresAt, err := s.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, ExpiresAt: expiresAt})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	var beyond, within time.Duration
	var err error

	if v := r.URL.Query().Get("beyond"); v != "" {
		beyond, err = duration.Parse(v)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	if v := r.URL.Query().Get("within"); v != "" {
		within, err = duration.Parse(v)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	now := time.Now()
	hasBeyond := r.URL.Query().Get("beyond") != ""
	hasWithin := r.URL.Query().Get("within") != ""

	filtered := s.core.Cache().ListFiltered(nil)
	result := make([]interface{}, 0, len(filtered))
	for _, item := range filtered {
		remaining := item.NotAfter.Sub(now)
		if hasBeyond && !(remaining > beyond) {
			continue
		}
		if hasWithin && !(remaining <= within) {
			continue
		}
		result = append(result, item)
	}

	writeJSON(w, http.StatusOK, result)
}

type refreshRequest struct {
	Backends []string `json:"backends,omitempty"`
}

func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, doomsdayerr.New(doomsdayerr.InvalidInput, "method not allowed"))
		return
	}

	var req refreshRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	ctx := r.Context()

	if len(req.Backends) == 0 {
		stats, err := s.core.PopulateCache(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	var totalCerts, totalPaths int
	var totalMS int64
	for _, name := range req.Backends {
		stats, err := s.core.RefreshBackend(ctx, name)
		if err != nil {
			writeError(w, err)
			return
		}
		totalCerts += stats.NumCerts
		totalPaths += stats.NumPaths
		totalMS += stats.DurationMS
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"numCerts":   totalCerts,
		"numPaths":   totalPaths,
		"durationMs": totalMS,
	})
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Scheduler().Info())
}

// requireAuth wraps h so that it is only invoked once the caller
// presents a token that validates, when the configured provider
// requires auth at all.
func (s *Server) requireAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.RequiresAuth() {
			h(w, r)
			return
		}

		token := tokenFromRequest(r)
		if token == "" || !s.auth.ValidateToken(token) {
			writeError(w, doomsdayerr.New(doomsdayerr.Auth, "missing or invalid token"))
			return
		}
		h(w, r)
	}
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get(tokenHeaderName); h != "" {
		return h
	}
	if c, err := r.Cookie(tokenCookieName); err == nil {
		return c.Value
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case doomsdayerr.IsAuth(err):
		status = http.StatusUnauthorized
	case doomsdayerr.IsNotFound(err):
		status = http.StatusNotFound
	case doomsdayerr.IsConfig(err) || doomsdayerr.IsInvalidInput(err):
		status = http.StatusBadRequest
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
