package web

import (
	"net/http"

	"playerident/internal/auth"
	"playerident/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes builds the admin API. Everything below /api except login
// requires a bearer token.
func (h *Handlers) SetupRoutes(authHandlers *auth.AuthHandlers, mw *middleware.Middleware, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware, middleware.SetupCORS())

	r.HandleFunc("/api/login", authHandlers.LoginHandler).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/check-auth", authHandlers.CheckAuthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(mw.AuthMiddleware)

	api.HandleFunc("/players/by-name/{name}", h.ResolveByName).Methods("GET")
	api.HandleFunc("/players/{id}/name", h.ResolveName).Methods("GET")
	api.HandleFunc("/players/{id}/addresses", h.GetAddresses).Methods("GET")
	api.HandleFunc("/players/{id}/sessions", h.Join).Methods("POST")
	api.HandleFunc("/players/{id}/sessions", h.Leave).Methods("DELETE")
	api.HandleFunc("/sessions", h.Sessions).Methods("GET")

	api.HandleFunc("/addresses/{address}/players", h.PlayersByAddress).Methods("GET")
	api.HandleFunc("/addresses/{address}/geoip", h.GeoIP).Methods("GET")
	api.HandleFunc("/addresses/{address}", h.ClearAddress).Methods("DELETE")

	api.HandleFunc("/services", h.Services).Methods("GET")
	api.HandleFunc("/reload", h.ReloadConfig).Methods("POST")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	return r
}
