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

package storage

import (
	"errors"

	"github.com/taut0logy/Serenite-sub001/models"
)

// ErrVersionExists signals that a group key version has already been
// published. The first writer wins; later writers must fetch the winning
// bundle instead.
var ErrVersionExists = errors.New("group key version already exists")

type PublicKeyStore interface {
	SavePublicKey(key models.UserPublicKey) error
	GetPublicKey(userID string) (*models.UserPublicKey, error)
	GetPublicKeys(userIDs []string) ([]models.UserPublicKey, error)
}

type GroupKeyStore interface {
	// SaveGroupKeyBundles atomically stores one wrapped copy per member
	// for a new key version. Returns ErrVersionExists if any bundle for
	// (groupID, keyVersion) is already present.
	SaveGroupKeyBundles(publish models.GroupKeyPublish, wrapperID, wrapperPublicKey string) error
	// GetGroupKeyBundle returns the newest bundle wrapped for userID, or
	// (nil, nil) when none has been published.
	GetGroupKeyBundle(groupID, userID string) (*models.GroupKeyBundle, error)
	GetLatestKeyVersion(groupID string) (int, error)
}

type MatchStore interface {
	SaveProfile(userID string, profile models.ClusterProfile) error
	// GetProfile returns (nil, nil) when the user has not completed the
	// questionnaire yet.
	GetProfile(userID string) (*models.ClusterProfile, error)
	ListGroups() ([]models.SupportGroup, error)
	IsGroupMember(groupID, userID string) (bool, error)
	GetGroupMembers(groupID string) ([]models.GroupMember, error)
}

type Store interface {
	PublicKeyStore
	GroupKeyStore
	MatchStore
}
