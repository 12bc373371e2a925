// Package httpapi is the HTTP surface: REST routes for sessions,
// matching, messaging, and safety operations, the WebSocket stream
// upgrade, and the prometheus scrape endpoint. Handlers stay thin; all
// authorization and domain rules live in the engines, and rejections
// pass through to the wire verbatim.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/ban"
	"github.com/driftapp/drift/internal/chat"
	"github.com/driftapp/drift/internal/identity"
	"github.com/driftapp/drift/internal/logger"
	"github.com/driftapp/drift/internal/match"
	"github.com/driftapp/drift/internal/metrics"
	"github.com/driftapp/drift/internal/report"
	"github.com/driftapp/drift/internal/ws"
)

// Config holds the HTTP-layer tunables.
type Config struct {
	CORSOrigins []string // allowed origins; empty means all
	RateRPS     float64  // per-IP sustained requests per second
	RateBurst   int      // per-IP burst allowance
}

// Deps carries the wired backends. Sessions, Bans, Blocks, and Stream
// may be nil; the endpoints they back degrade rather than fail to build.
type Deps struct {
	Issuer   *identity.TokenIssuer
	Sessions *identity.Registry
	Bans     *ban.Store
	Chats    *chat.Engine
	Matches  *match.Engine
	Reports  *report.Service
	Blocks   Blocklist
	Stream   *ws.Stream
}

// Server builds the routed handler and holds the request-path state.
type Server struct {
	cfg       Config
	deps      Deps
	limiters  *limiterPool
	log       *zap.Logger
	startedAt time.Time
}

// New creates a Server from the wired dependencies.
func New(cfg Config, deps Deps) *Server {
	return &Server{
		cfg:       cfg,
		deps:      deps,
		limiters:  newLimiterPool(cfg.RateRPS, cfg.RateBurst),
		log:       logger.L("httpapi"),
		startedAt: time.Now(),
	}
}

// Handler assembles the full middleware and route tree. The caller owns
// the http.Server that serves it.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	// Probe and scrape endpoints stay outside the per-IP limiter so
	// load balancers and prometheus never get throttled.
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.rateLimit)

	v1.HandleFunc("/sessions", s.handleMintSession).Methods(http.MethodPost)

	authed := v1.NewRoute().Subrouter()
	authed.Use(s.requireSession)

	authed.HandleFunc("/session", s.handleSessionInfo).Methods(http.MethodGet)
	authed.HandleFunc("/session", s.handleRevokeSession).Methods(http.MethodDelete)

	authed.HandleFunc("/swipes", s.handleSwipe).Methods(http.MethodPost)
	authed.HandleFunc("/matches", s.handleListMatches).Methods(http.MethodGet)

	authed.HandleFunc("/faves", s.handleFave).Methods(http.MethodPost)
	authed.HandleFunc("/faves", s.handleListFaves).Methods(http.MethodGet)
	authed.HandleFunc("/faves/{targetUserId}", s.handleUnfave).Methods(http.MethodDelete)

	authed.HandleFunc("/chats/messages", s.handleSendMessage).Methods(http.MethodPost)
	authed.HandleFunc("/chats/{chatKind}/threads", s.handleListThreads).Methods(http.MethodGet)
	authed.HandleFunc("/chats/{chatKind}/{otherKey}/messages", s.handleListMessages).Methods(http.MethodGet)
	authed.HandleFunc("/chats/{chatKind}/{otherKey}/read", s.handleMarkRead).Methods(http.MethodPost)

	authed.HandleFunc("/reports", s.handleFileReport).Methods(http.MethodPost)

	authed.HandleFunc("/blocks", s.handleBlock).Methods(http.MethodPost)
	authed.HandleFunc("/blocks", s.handleListBlocks).Methods(http.MethodGet)
	authed.HandleFunc("/blocks/{targetKey}", s.handleUnblock).Methods(http.MethodDelete)

	authed.HandleFunc("/ws", s.handleStream).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(r)
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORSOrigins
}

// handleHealth reports liveness plus the current stream population, in
// the shape load balancer checks expect.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	conns := 0
	if s.deps.Stream != nil {
		conns = s.deps.Stream.Registry().Count()
	}
	writeJSON(w, http.StatusOK, struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: conns,
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "No such route.", nil)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed.", nil)
}
