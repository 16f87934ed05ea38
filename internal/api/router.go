package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"

	"github.com/ernie/milsim/internal/auth"
	"github.com/ernie/milsim/internal/engine"
	"github.com/ernie/milsim/internal/hub"
	"github.com/ernie/milsim/internal/storage"
)

// Options configures the HTTP surface
type Options struct {
	StaticDir      string
	AllowedOrigins []string
	// MessagesPerSecond and MessageBurst limit inbound websocket messages
	// per connection
	MessagesPerSecond float64
	MessageBurst      int
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux      *http.ServeMux
	handler  http.Handler
	cors     *cors.Cors
	upgrader websocket.Upgrader
	store    *storage.Store
	engine   *engine.Engine
	hub      *hub.Hub
	auth     *auth.Service
	authz    Authorizer
	opts     Options
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, eng *engine.Engine, h *hub.Hub, authService *auth.Service, opts Options) *Router {
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 20
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 40
	}
	r := &Router{
		mux:    http.NewServeMux(),
		store:  store,
		engine: eng,
		hub:    h,
		auth:   authService,
		authz:  OwnerAuthorizer{Games: eng},
		opts:   opts,
	}

	api := http.NewServeMux()

	// Game routes
	api.HandleFunc("GET /api/games", r.handleGetGames)
	api.HandleFunc("POST /api/games", r.requireAuth(r.handleCreateGame))
	api.HandleFunc("GET /api/games/{id}", r.handleGetGame)
	api.HandleFunc("GET /api/games/{id}/bombs", r.handleGetActiveBombs)
	api.HandleFunc("GET /api/games/{id}/times", r.handleGetControlPointTimes)
	api.HandleFunc("GET /api/games/{id}/control-points/{cpId}", r.handleGetControlPoint)
	api.HandleFunc("POST /api/games/{id}/players", r.requireAuth(r.handleJoinGame))
	api.HandleFunc("POST /api/games/{id}/actions", r.requireAuth(r.handleGameAction))

	// Auth routes
	api.HandleFunc("POST /api/auth/login", r.handleLogin)
	api.HandleFunc("POST /api/auth/logout", r.handleLogout)
	api.HandleFunc("GET /api/auth/check", r.handleAuthCheck)
	api.HandleFunc("POST /api/auth/change-password", r.requireAuth(r.handleChangePassword))

	r.mux.Handle("/api/", gzhttp.GzipHandler(api))

	// WebSocket endpoint
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	// Static files - only serve if staticDir is configured
	if opts.StaticDir != "" {
		r.mux.HandleFunc("GET /", r.handleStatic)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.cors = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	r.handler = r.cors.Handler(r.mux)
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     r.checkOrigin,
	}

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// handleStatic serves static files from the configured directory
// For SPA support, serves index.html for any path that doesn't match a file
func (r *Router) handleStatic(w http.ResponseWriter, req *http.Request) {
	path := filepath.Clean(req.URL.Path)
	if path == "/" {
		path = "/index.html"
	}

	fullPath := filepath.Join(r.opts.StaticDir, path)

	// Security: ensure the path is within staticDir
	absStaticDir, _ := filepath.Abs(r.opts.StaticDir)
	absPath, _ := filepath.Abs(fullPath)
	if !strings.HasPrefix(absPath, absStaticDir) {
		http.NotFound(w, req)
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		// SPA fallback: serve index.html for unknown paths
		fullPath = filepath.Join(r.opts.StaticDir, "index.html")
		if _, err := os.Stat(fullPath); err != nil {
			http.NotFound(w, req)
			return
		}
	}

	if contentType := getContentType(fullPath); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	http.ServeFile(w, req, fullPath)
}

// getContentType returns the content type for a file based on extension
func getContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".ico":
		return "image/x-icon"
	case ".webmanifest":
		return "application/manifest+json"
	default:
		return ""
	}
}
