package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"zabon/realtime-service/internal/models"
	"zabon/realtime-service/internal/service"

	"github.com/gorilla/mux"
)

const maxBatchUsers = 100

type setStatusRequest struct {
	Status models.PresenceStatus `json:"status"`
}

type statusesResponse struct {
	Count int                  `json:"count"`
	Users []*models.StatusView `json:"users"`
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	err := h.presence.SetStatus(r.Context(), userID, req.Status)
	if err != nil {
		if errors.Is(err, service.ErrInvalidStatus) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update presence")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// getStatus answers offline with no last-seen time when the read fails.
func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	view, err := h.presence.GetStatus(r.Context(), userID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Warn("Presence read failed, reporting offline")
		view = &models.StatusView{UserID: userID, Status: models.StatusOffline}
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getStatuses(w http.ResponseWriter, r *http.Request) {
	userIDs := r.URL.Query()["user_id"]
	if len(userIDs) == 0 {
		writeError(w, http.StatusBadRequest, "user_id parameter is required")
		return
	}
	if len(userIDs) > maxBatchUsers {
		writeError(w, http.StatusBadRequest, "too many user_id parameters")
		return
	}

	views, err := h.presence.GetStatuses(r.Context(), userIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read presence")
		return
	}

	writeJSON(w, http.StatusOK, statusesResponse{Count: len(views), Users: views})
}
