// Package server wires HTTP handlers into a ServeMux for the relay
// application via routing helpers.
package server

import (
	"net/http"
	"os"

	"github.com/rs/cors"
)

// SetupRoutes configures and returns the application's HTTP handler. It sets
// up the WebSocket endpoint, the upload side channel, health check, metrics,
// the test page, and static file serving, all wrapped with CORS so browser
// clients on other LAN hosts can reach the upload endpoint.
func SetupRoutes() http.Handler {
	cfg := currentConfig()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler)
	mux.HandleFunc("/upload", UploadHandler)
	mux.Handle("/uploads/", UploadsHandler())
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/test", TestPageHandler)

	if info, err := os.Stat(cfg.PublicDir); err == nil && info.IsDir() {
		mux.Handle("/", http.FileServer(http.Dir(cfg.PublicDir)))
	} else {
		mux.HandleFunc("/", HealthHandler)
	}

	return corsMiddleware(cfg).Handler(mux)
}

// corsMiddleware builds the CORS policy from the configured origin allowlist.
// WebSocket upgrades keep their own origin check; this covers the plain HTTP
// surface only.
func corsMiddleware(cfg Config) *cors.Cors {
	origins := cfg.AllowedOrigins

	configMu.RLock()
	if allowAllOrigins {
		origins = []string{"*"}
	}
	configMu.RUnlock()

	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	})
}
