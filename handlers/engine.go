package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"bridgarr/config"
	"bridgarr/internal/database"
	"bridgarr/models"
	"bridgarr/services/acquisition"
	"bridgarr/services/debrid"
	"bridgarr/services/linkcache"
)

// EngineHandler exposes the acquisition and link cache operations.
type EngineHandler struct {
	configManager *config.Manager
	db            *database.DB
	acquisitions  *acquisition.Service
	links         *linkcache.Service
}

// NewEngineHandler creates the engine handler.
func NewEngineHandler(configManager *config.Manager, db *database.DB, acquisitions *acquisition.Service, links *linkcache.Service) *EngineHandler {
	return &EngineHandler{
		configManager: configManager,
		db:            db,
		acquisitions:  acquisitions,
		links:         links,
	}
}

// Acquire runs a full acquisition for a subject.
// POST /api/acquire
func (h *EngineHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubjectID  string                    `json:"subjectId"`
		EpisodeID  *string                   `json:"episodeId,omitempty"`
		AccountID  string                    `json:"accountId"`
		Candidates []models.TorrentCandidate `json:"candidates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SubjectID == "" || req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "subjectId and accountId are required")
		return
	}

	result, err := h.acquisitions.Acquire(r.Context(), acquisition.AcquireRequest{
		SubjectID:  req.SubjectID,
		EpisodeID:  req.EpisodeID,
		AccountID:  req.AccountID,
		Candidates: req.Candidates,
	})
	if err != nil {
		if errors.Is(err, acquisition.ErrAlreadyInFlight) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		category := acquisition.Categorize(err)
		writeJSON(w, statusForCategory(category), map[string]any{
			"error":    err.Error(),
			"category": category,
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func statusForCategory(category acquisition.FailureCategory) int {
	switch category {
	case acquisition.CategoryNoCandidates:
		return http.StatusNotFound
	case acquisition.CategoryNoVideoFiles:
		return http.StatusUnprocessableEntity
	case acquisition.CategoryBlocked:
		return http.StatusUnavailableForLegalReasons
	case acquisition.CategoryNotConfigured:
		return http.StatusBadRequest
	case acquisition.CategoryTimeout:
		return http.StatusAccepted
	default:
		return http.StatusBadGateway
	}
}

// GetLink serves the newest valid link for a subject.
// GET /api/links/{subjectID}?episodeId=...
func (h *EngineHandler) GetLink(w http.ResponseWriter, r *http.Request) {
	subjectID := mux.Vars(r)["subjectID"]

	var episodeID *string
	if v := r.URL.Query().Get("episodeId"); v != "" {
		episodeID = &v
	}

	link, err := h.links.GetValidLink(r.Context(), subjectID, episodeID)
	if errors.Is(err, linkcache.ErrLinkNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// LinkStats summarizes the link cache.
// GET /api/links/stats
func (h *EngineHandler) LinkStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.links.Statistics()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListTorrents lists every tracked torrent.
// GET /api/torrents
func (h *EngineHandler) ListTorrents(w http.ResponseWriter, r *http.Request) {
	torrents, err := h.db.ListTorrents()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if torrents == nil {
		torrents = []models.TrackedTorrent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"torrents": torrents})
}

// DeleteTorrent removes a torrent remotely and locally.
// DELETE /api/torrents/{id}
func (h *EngineHandler) DeleteTorrent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := h.acquisitions.Remove(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "torrent not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ValidateAccounts checks every enabled debrid account against its provider.
// GET /api/accounts/validate
func (h *EngineHandler) ValidateAccounts(w http.ResponseWriter, r *http.Request) {
	settings, err := h.configManager.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load settings: "+err.Error())
		return
	}

	type accountStatus struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Provider string `json:"provider"`
		Valid    bool   `json:"valid"`
		Error    string `json:"error,omitempty"`
	}

	results := []accountStatus{}
	for _, account := range settings.EnabledAccounts() {
		status := accountStatus{ID: account.ID, Name: account.Name, Provider: account.Provider}

		kind, err := debrid.ParseKind(account.Provider)
		if err != nil {
			status.Error = err.Error()
			results = append(results, status)
			continue
		}
		provider, err := debrid.New(kind, account.APIKey)
		if err != nil {
			status.Error = err.Error()
			results = append(results, status)
			continue
		}

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		if err := provider.ValidateToken(ctx); err != nil {
			status.Error = err.Error()
		} else {
			status.Valid = true
		}
		cancel()
		results = append(results, status)
	}

	writeJSON(w, http.StatusOK, map[string]any{"accounts": results})
}

// Health reports liveness.
// GET /api/health
func (h *EngineHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
