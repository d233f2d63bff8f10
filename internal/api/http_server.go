package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tovis/internal/apperr"
	"tovis/internal/config"
	"tovis/internal/metrics"
	"tovis/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// Services bundles the core services the transports call into.
type Services struct {
	Bookings     *service.BookingService
	Availability *service.AvailabilityService
	Blocks       *service.BlockService
	Sessions     *service.SessionService
	Schedule     *service.ScheduleService
	Catalog      *service.CatalogService
	Users        *service.UserService
	Export       *service.ExportService
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPServer exposes the booking API over JSON.
type HTTPServer struct {
	cfg     config.APIConfig
	svc     Services
	auth    *Authenticator
	limiter *rateLimiter
	ready   Pinger
	server  *http.Server
	log     zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, authn *Authenticator, ready Pinger, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		cfg:     cfg,
		svc:     svc,
		auth:    authn,
		limiter: newRateLimiter(cfg.RateLimit),
		ready:   ready,
		log:     zerolog.Nop(),
	}
	if logger != nil {
		s.log = logger.With().Str("component", "http").Logger()
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.cfg.HTTP.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.HTTP.RequestTimeout))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Get("/me", s.handleMe)
		r.Get("/availability", s.handleAvailability)
		r.Get("/session", s.handleSession)

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", s.handleCreateBooking)
			r.Get("/{bookingID}", s.handleGetBooking)
			r.Patch("/{bookingID}/status", s.handleUpdateStatus)
			r.Post("/{bookingID}/start", s.handleStartSession)
		})

		r.Route("/calendar-blocks", func(r chi.Router) {
			r.Post("/", s.handleCreateBlock)
			r.Get("/", s.handleListBlocks)
			r.Delete("/{blockID}", s.handleDeleteBlock)
		})

		r.Route("/professionals/{professionalID}", func(r chi.Router) {
			r.Get("/working-hours", s.handleGetWorkingHours)
			r.Put("/working-hours", s.handleSetWorkingHours)
			r.Get("/services", s.handleListServices)
			r.Post("/services", s.handleCreateService)
			r.Get("/bookings/export", s.handleExport)
		})
	})

	return r
}

func (s *HTTPServer) allowedOrigins() []string {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return []string{"https://*", "http://*"}
	}
	return s.cfg.CORS.AllowedOrigins
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// authenticate resolves the actor for every /v1 request. API keys are only
// accepted on the read routes their permissions cover.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := callerCredentials{
			bearer: bearerToken(r.Header.Get(authorizationHeader)),
			apiKey: strings.TrimSpace(r.Header.Get(s.auth.apiKeyHeader)),
			extra:  strings.TrimSpace(r.Header.Get(s.auth.extraHeader)),
		}
		actor, err := s.auth.authenticate(r.Context(), c, requiredPermissionHTTP(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := withActor(r.Context(), actor)
		ctx = context.WithValue(ctx, limitKeyCtxKey{}, clientKey(actor, c.apiKey, remoteHost(r)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requiredPermissionHTTP(r *http.Request) string {
	if r.Method != http.MethodGet {
		return ""
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/v1/availability":
		return permReadAvailability
	case path == "/v1/session":
		return permReadSessions
	case strings.HasPrefix(path, "/v1/bookings/"):
		return permReadBookings
	case strings.HasPrefix(path, "/v1/professionals/") && strings.HasSuffix(path, "/services"):
		return permReadAvailability
	default:
		return ""
	}
}

type limitKeyCtxKey struct{}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, _ := r.Context().Value(limitKeyCtxKey{}).(string)
		if !s.limiter.allow(key) {
			s.writeError(w, r, apperr.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		metrics.IncHTTP(route, strconv.Itoa(code))

		s.log.Info().
			Str("request_id", w.Header().Get(requestIDHeader)).
			Str("method", r.Method).
			Str("route", route).
			Int("status", code).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeError maps a core error to its HTTP status. Server-side failures are
// logged with the request id and reported with a generic message.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code := httpStatus(kind)

	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("request_id", w.Header().Get(requestIDHeader)).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	if kind == apperr.KindStorageTimeout {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeJSON(w, code, map[string]string{
		"error": apperr.PublicMessage(err),
		"code":  string(kind),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
