package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"homebooking/internal/availability"
	"homebooking/internal/events"
	"homebooking/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Store is the persistence layer behind the write endpoints.
type Store interface {
	availability.Store
	availability.Counter
	availability.Reserver
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, status models.BookingStatus) (*models.Booking, error)
	SaveBusinessHours(ctx context.Context, organizationID string, hours models.BusinessHours) error
	CreateBlocks(ctx context.Context, organizationID string, blocks []models.ScheduleBlock) ([]models.ScheduleBlock, error)
	DeleteBlock(ctx context.Context, organizationID, id string) error
}

// Deps are the collaborators of the HTTP server. Store may be nil when the
// service only proxies a remote availability endpoint; write routes then
// answer 503.
type Deps struct {
	Store     Store
	Source    availability.Source
	Sessions  *availability.Manager
	Publisher events.Publisher
}

// Options configure authentication and limits.
type Options struct {
	APIKey              string
	WebhookSecret       string
	StripeWebhookSecret string
	RateLimitRPS        float64
	RateLimitBurst      int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
}

// HTTPServer exposes availability and scheduling over HTTP.
type HTTPServer struct {
	deps    Deps
	opts    Options
	logger  *zerolog.Logger
	limiter *clientLimiter
	server  *http.Server
}

// NewHTTPServer builds the server and its routes.
func NewHTTPServer(addr string, deps Deps, opts Options, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{deps: deps, opts: opts, logger: logger}
	if opts.RateLimitRPS > 0 {
		burst := opts.RateLimitBurst
		if burst <= 0 {
			burst = int(opts.RateLimitRPS) + 1
		}
		s.limiter = newClientLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /functions/v1/availability", s.withAPIKey(s.handleAvailability))

	mux.HandleFunc("GET /api/v1/orgs/{org}/months/{month}", s.withAPIKey(s.handleMonth))
	mux.HandleFunc("GET /api/v1/orgs/{org}/weeks/{weekStart}", s.withAPIKey(s.handleWeek))
	mux.HandleFunc("GET /api/v1/orgs/{org}/weeks/{weekStart}/export.xlsx", s.withAPIKey(s.handleWeekExport))
	mux.HandleFunc("GET /api/v1/orgs/{org}/days/{date}", s.withAPIKey(s.handleDay))
	mux.HandleFunc("GET /api/v1/orgs/{org}/slots/{date}/{time}", s.withAPIKey(s.handleSlotCheck))
	mux.HandleFunc("GET /api/v1/orgs/{org}/business-hours", s.withAPIKey(s.handleGetBusinessHours))
	mux.HandleFunc("PUT /api/v1/orgs/{org}/business-hours", s.withAPIKey(s.handlePutBusinessHours))
	mux.HandleFunc("POST /api/v1/orgs/{org}/bookings", s.withAPIKey(s.handleCreateBooking))
	mux.HandleFunc("PATCH /api/v1/orgs/{org}/bookings/{id}", s.withAPIKey(s.handleUpdateBooking))
	mux.HandleFunc("POST /api/v1/orgs/{org}/blocks", s.withAPIKey(s.handleCreateBlocks))
	mux.HandleFunc("DELETE /api/v1/orgs/{org}/blocks/{id}", s.withAPIKey(s.handleDeleteBlock))

	mux.HandleFunc("POST /hooks/db-change", s.handleDBChange)
	mux.HandleFunc("POST /hooks/stripe", s.handleStripeWebhook)

	var handler http.Handler = mux
	handler = s.withRateLimit(handler)
	handler = s.withLogging(handler)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown. http.ErrServerClosed is not an error.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *HTTPServer) withAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" && !secretEqual(r.Header.Get("x-api-key"), s.opts.APIKey) {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next(w, r)
	}
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *HTTPServer) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	lastGC   time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	return &clientLimiter{limit: limit, burst: burst, visitors: make(map[string]*visitor)}
}

func (l *clientLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastGC) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > 3*time.Minute {
				delete(l.visitors, k)
			}
		}
		l.lastGC = now
	}

	v := l.visitors[key]
	if v == nil {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
