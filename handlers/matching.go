// Copyright (C) 2025 serenite.app <dev@serenite.app>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/taut0logy/Serenite-sub001/matching"
	"github.com/taut0logy/Serenite-sub001/middleware"
)

const defaultRecommendationLimit = 5

type MatchHandler struct {
	service *matching.Service
	log     *logrus.Entry
}

func NewMatchHandler(service *matching.Service, log *logrus.Logger) *MatchHandler {
	return &MatchHandler{
		service: service,
		log:     log.WithField("handler", "matching"),
	}
}

// UpdateProfile recomputes and stores the caller's cluster profile from
// raw questionnaire responses. Only aggregate scores are returned and
// persisted.
func (h *MatchHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Responses map[string]int `json:"responses"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Responses) == 0 {
		http.Error(w, "responses is required", http.StatusBadRequest)
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), userID, req.Responses)
	if err != nil {
		h.log.WithField("user_id", userID).WithError(err).Error("failed to update profile")
		http.Error(w, "Failed to update profile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profile)
}

// GetRecommendations returns the caller's best-matching support groups.
func (h *MatchHandler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := defaultRecommendationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	recs, err := h.service.Recommendations(r.Context(), userID, limit)
	if errors.Is(err, matching.ErrNoProfile) {
		http.Error(w, "Complete the questionnaire first", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.WithField("user_id", userID).WithError(err).Error("failed to compute recommendations")
		http.Error(w, "Failed to compute recommendations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}
