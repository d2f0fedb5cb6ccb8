package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"playerident/internal/config"
	"playerident/internal/presence"
	"playerident/internal/resolver"
	"playerident/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("web")

// Handlers serve the admin API on top of the resolver and the presence registry
type Handlers struct {
	Resolver *resolver.Resolver
	Presence *presence.Registry
	// Reload re-reads configuration; config.Reload unless replaced in tests
	Reload func() (*config.Config, error)
}

func NewHandlers(r *resolver.Resolver, p *presence.Registry) *Handlers {
	return &Handlers{Resolver: r, Presence: p, Reload: config.Reload}
}

type sessionRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type clearResponse struct {
	Address string `json:"address"`
	Cleared bool   `json:"cleared"`
}

type addressesResponse struct {
	UUID      uuid.UUID `json:"uuid"`
	Addresses []string  `json:"addresses"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid player uuid")
		return uuid.Nil, false
	}
	return id, true
}

func boolQuery(w http.ResponseWriter, r *http.Request, key string) (bool, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid value for "+key)
		return false, false
	}
	return b, true
}

// resolveError maps a resolver failure to a response
func resolveError(w http.ResponseWriter, err error) {
	var notFound *resolver.PlayerNotFoundError
	var noGeo *resolver.NoGeoIPError
	switch {
	case errors.Is(err, resolver.ErrMissingCacheEntry), errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &noGeo):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Errorw("Request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ResolveByName answers GET /api/players/by-name/{name}?query=
func (h *Handlers) ResolveByName(w http.ResponseWriter, r *http.Request) {
	query, ok := boolQuery(w, r, "query")
	if !ok {
		return
	}
	name := mux.Vars(r)["name"]

	id, err := h.Resolver.ResolveIdentity(r.Context(), name, query)
	if err != nil {
		resolveError(w, err)
		return
	}
	if cached, err := h.Resolver.GetName(id); err == nil {
		name = cached
	}
	writeJSON(w, http.StatusOK, models.Identity{ID: id, Name: name})
}

// ResolveName answers GET /api/players/{id}/name?query=
func (h *Handlers) ResolveName(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	query, ok := boolQuery(w, r, "query")
	if !ok {
		return
	}

	name, err := h.Resolver.ResolveName(r.Context(), id, query)
	if err != nil {
		resolveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Identity{ID: id, Name: name})
}

func (h *Handlers) GetAddresses(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	addresses, err := h.Resolver.GetAddresses(id)
	if err != nil {
		resolveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addressesResponse{UUID: id, Addresses: addresses})
}

// Join records a connected player and what it was seen as
func (h *Handlers) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if req.Address != "" && !models.ValidAddress(req.Address) {
		writeError(w, http.StatusBadRequest, "Address must be an IP address")
		return
	}

	session := h.Presence.Join(id, req.Name, req.Address)
	h.Resolver.Update(id, req.Name, req.Address)
	writeJSON(w, http.StatusCreated, session)
}

func (h *Handlers) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !h.Presence.Leave(id) {
		writeError(w, http.StatusNotFound, "Player is not connected")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Presence.Online())
}

// PlayersByAddress lists every known player seen at the address
func (h *Handlers) PlayersByAddress(w http.ResponseWriter, r *http.Request) {
	ids := h.Resolver.GetIDsByAddress(mux.Vars(r)["address"])
	players := make([]models.Identity, 0, len(ids))
	for _, id := range ids {
		name, err := h.Resolver.GetName(id)
		if err != nil {
			continue
		}
		players = append(players, models.Identity{ID: id, Name: name})
	}
	writeJSON(w, http.StatusOK, players)
}

func (h *Handlers) GeoIP(w http.ResponseWriter, r *http.Request) {
	info, err := h.Resolver.LookupAddress(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		resolveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ClearAddress answers DELETE /api/addresses/{address}?async=
func (h *Handlers) ClearAddress(w http.ResponseWriter, r *http.Request) {
	async, ok := boolQuery(w, r, "async")
	if !ok {
		return
	}
	address := mux.Vars(r)["address"]
	cleared, err := h.Resolver.ClearCachedAddress(r.Context(), address, async)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store address purge")
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{Address: address, Cleared: cleared})
}

func (h *Handlers) Services(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Resolver.Services())
}

// ReloadConfig re-reads the environment and applies the new source toggles.
// Cached identities and cooldowns survive.
func (h *Handlers) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Reload()
	if err != nil {
		log.Errorw("Failed to reload configuration", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := logging.SetLogLevel("*", cfg.LogLevel); err != nil {
		log.Warnw("Ignoring invalid log level", "level", cfg.LogLevel, "err", err)
	}
	h.Resolver.Configure(cfg.Fetchers)
	h.Presence.SetOnlineMode(cfg.OnlineMode)
	log.Info("Configuration reloaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
