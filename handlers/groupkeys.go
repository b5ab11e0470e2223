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

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/taut0logy/Serenite-sub001/middleware"
	"github.com/taut0logy/Serenite-sub001/models"
	"github.com/taut0logy/Serenite-sub001/storage"
)

type GroupKeyHandler struct {
	store storage.Store
	log   *logrus.Entry
}

func NewGroupKeyHandler(store storage.Store, log *logrus.Logger) *GroupKeyHandler {
	return &GroupKeyHandler{
		store: store,
		log:   log.WithField("handler", "groupkeys"),
	}
}

// PublishGroupKeys stores the wrapped key bundle for one key version.
// Exactly one publisher wins per (group, version); everyone else gets 409
// and should fetch the winning bundle instead.
func (h *GroupKeyHandler) PublishGroupKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	groupID := mux.Vars(r)["group_id"]

	var publish models.GroupKeyPublish
	if err := json.NewDecoder(r.Body).Decode(&publish); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	publish.GroupID = groupID

	if publish.KeyVersion < 1 {
		http.Error(w, "key_version must be at least 1", http.StatusBadRequest)
		return
	}
	if len(publish.EncryptedKeys) == 0 {
		http.Error(w, "encrypted_keys is required", http.StatusBadRequest)
		return
	}

	wrapper, err := h.store.GetPublicKey(userID)
	if err != nil {
		h.log.WithError(err).Error("failed to load wrapper public key")
		http.Error(w, "Failed to publish group keys", http.StatusInternalServerError)
		return
	}
	if wrapper == nil {
		http.Error(w, "Publisher has no registered public key", http.StatusBadRequest)
		return
	}

	err = h.store.SaveGroupKeyBundles(publish, userID, wrapper.PublicKey)
	if errors.Is(err, storage.ErrVersionExists) {
		http.Error(w, "Key version already published", http.StatusConflict)
		return
	}
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"group_id":    groupID,
			"key_version": publish.KeyVersion,
		}).WithError(err).Error("failed to save group key bundles")
		http.Error(w, "Failed to publish group keys", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "group keys published",
		"key_version": publish.KeyVersion,
	})
}

// GetGroupKey returns the newest wrapped key bundle for one member. 404
// means no key has been published for that member, never a server fault.
func (h *GroupKeyHandler) GetGroupKey(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	vars := mux.Vars(r)
	groupID := vars["group_id"]
	userID := vars["user_id"]

	// Wrapped keys are only readable by their recipient.
	if callerID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	bundle, err := h.store.GetGroupKeyBundle(groupID, userID)
	if err != nil {
		h.log.WithField("group_id", groupID).WithError(err).Error("failed to fetch group key bundle")
		http.Error(w, "Failed to fetch group key", http.StatusInternalServerError)
		return
	}
	if bundle == nil {
		http.Error(w, "No group key published", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bundle)
}
