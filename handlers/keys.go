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
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/taut0logy/Serenite-sub001/crypto"
	"github.com/taut0logy/Serenite-sub001/middleware"
	"github.com/taut0logy/Serenite-sub001/models"
	"github.com/taut0logy/Serenite-sub001/storage"
)

type KeyHandler struct {
	store storage.PublicKeyStore
	log   *logrus.Entry
}

func NewKeyHandler(store storage.PublicKeyStore, log *logrus.Logger) *KeyHandler {
	return &KeyHandler{
		store: store,
		log:   log.WithField("handler", "keys"),
	}
}

// RegisterPublicKey stores the caller's X25519 public key. Re-registering
// replaces the previous key.
func (h *KeyHandler) RegisterPublicKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var key models.UserPublicKey
	if err := json.NewDecoder(r.Body).Decode(&key); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// The key must belong to the authenticated caller and parse as a
	// curve point before it is published to other members.
	if _, err := crypto.DecodePublicKey(key.PublicKey); err != nil {
		http.Error(w, "Invalid public key", http.StatusBadRequest)
		return
	}
	key.UserID = userID

	if err := h.store.SavePublicKey(key); err != nil {
		h.log.WithField("user_id", userID).WithError(err).Error("failed to save public key")
		http.Error(w, "Failed to save public key", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"status": "public key registered"})
}

// GetPublicKeys returns registered public keys for a batch of user IDs.
// Users without a registered key are omitted from the response.
func (h *KeyHandler) GetPublicKeys(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.UserIDs) == 0 {
		http.Error(w, "user_ids is required", http.StatusBadRequest)
		return
	}

	keys, err := h.store.GetPublicKeys(req.UserIDs)
	if err != nil {
		h.log.WithError(err).Error("failed to fetch public keys")
		http.Error(w, "Failed to fetch public keys", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(keys)
}
